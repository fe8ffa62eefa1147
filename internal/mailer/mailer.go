// Package mailer enqueues outgoing email as queue jobs and provides the
// task that delivers them.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/task"
)

var validate = validator.New()

// Task returns the email task. Register it under task.EmailType.
func Task(s Sender) task.Task {
	return task.Typed(task.JSON, func(ctx context.Context, msg dto.SendEmailPayload, jobID uint) error {
		if err := validate.Struct(msg); err != nil {
			return fmt.Errorf("invalid email payload: %w", err)
		}
		return s.Send(ctx, msg, jobID)
	})
}

// Mailer is the producer side: it turns messages into email jobs.
type Mailer struct {
	jobs           job.JobRepoInterface
	tasks          *task.Registry
	defaultRetries int
}

func New(jobs job.JobRepoInterface, tasks *task.Registry, defaultRetries int) *Mailer {
	return &Mailer{jobs: jobs, tasks: tasks, defaultRetries: defaultRetries}
}

// EnqueueOption adjusts the job created for a message.
type EnqueueOption func(*models.Job)

func WithGroup(group string) EnqueueOption {
	return func(j *models.Job) { j.Group = group }
}

func WithReference(ref string) EnqueueOption {
	return func(j *models.Job) { j.Reference = ref }
}

// WithSendAfter delays delivery until t.
func WithSendAfter(t time.Time) EnqueueOption {
	return func(j *models.Job) { j.NotBefore = &t }
}

// Enqueue validates msg and stores it as an email job.
func (m *Mailer) Enqueue(ctx context.Context, msg dto.SendEmailPayload, opts ...EnqueueOption) (*models.Job, error) {
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	cfg, err := m.tasks.Config(task.EmailType, 0, m.defaultRetries)
	if err != nil {
		return nil, err
	}
	payload, err := m.tasks.Encode(task.EmailType, msg)
	if err != nil {
		return nil, err
	}

	j := &models.Job{
		JobType:     task.EmailType,
		Payload:     payload,
		MaxAttempts: cfg.MaxAttempts,
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := m.jobs.Enqueue(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue email: %w", err)
	}
	return j, nil
}
