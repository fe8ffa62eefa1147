// Package app wires the store, the process registry and the built-in tasks
// for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joshu-sajeev/pollq/internal/backoff"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/mailer"
	"github.com/joshu-sajeev/pollq/internal/process"
	"github.com/joshu-sajeev/pollq/internal/storage/postgres"
	"github.com/joshu-sajeev/pollq/internal/task"
	"gorm.io/gorm"
)

// Tasks registers the built-in tasks.
func Tasks(logger *slog.Logger, smtp config.SMTP) *task.Registry {
	r := task.NewRegistry()
	r.MustRegister(task.EchoType, task.Echo(logger))
	r.MustRegister(task.WebhookType, task.Webhook(&http.Client{}), task.WithTimeout(time.Minute))
	r.MustRegister(task.EmailType, mailer.Task(mailer.NewSMTPSender(smtp)),
		task.WithTimeout(2*time.Minute),
		task.WithMaxAttempts(5),
	)
	return r
}

// Stack is what every command needs to talk to the queue.
type Stack struct {
	DB    *gorm.DB
	Jobs  *postgres.JobRepository
	Procs process.Registry
	Queue config.Queue

	closer func() error
}

// Open connects to Postgres using the POSTGRES_* environment and builds a
// Stack that owns the connection.
func Open(ctx context.Context, q config.Queue) (*Stack, error) {
	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	st, err := NewStack(db, q)
	if err != nil {
		return nil, err
	}
	st.closer = func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return st, nil
}

// NewStack builds repositories over db. The caller keeps ownership of db.
// A configured pid-file path selects the file registry.
func NewStack(db *gorm.DB, q config.Queue) (*Stack, error) {
	st := &Stack{
		DB:    db,
		Jobs:  postgres.NewJobRepository(db, postgres.WithBackoff(backoff.NewExponential(q.BackoffInitial, q.BackoffMax))),
		Queue: q,
	}

	if q.UsesPIDFiles() {
		fr, err := process.NewFileRegistry(q.PIDFilePath, q.WorkerTimeout)
		if err != nil {
			return nil, fmt.Errorf("open pid-file registry: %w", err)
		}
		st.Procs = fr
	} else {
		st.Procs = postgres.NewProcessRepository(db, q.WorkerTimeout)
	}
	return st, nil
}

// TableRegistry reports whether workers are tracked in the processes table.
func (s *Stack) TableRegistry() bool {
	return !s.Queue.UsesPIDFiles()
}

func (s *Stack) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
