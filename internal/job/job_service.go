package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/joshu-sajeev/pollq/common"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/process"
	"github.com/joshu-sajeev/pollq/internal/task"
)

// Observer receives producer-side events. *metrics.Collector implements it.
type Observer interface {
	JobEnqueued(jobType string)
	UpdateQueueStats(pending map[string]int64, workers int)
}

type nopObserver struct{}

func (nopObserver) JobEnqueued(string) {}
func (nopObserver) UpdateQueueStats(map[string]int64, int) {}

type JobService struct {
	repo     JobRepoInterface
	procs    process.Registry
	tasks    *task.Registry
	cfg      config.Queue
	observer Observer
	now      func() time.Time
}

func NewJobService(repo JobRepoInterface, procs process.Registry, tasks *task.Registry, cfg config.Queue) *JobService {
	return &JobService{
		repo:     repo,
		procs:    procs,
		tasks:    tasks,
		cfg:      cfg,
		observer: nopObserver{},
		now:      time.Now,
	}
}

// WithObserver sets the metrics sink and returns s.
func (s *JobService) WithObserver(o Observer) *JobService {
	s.observer = o
	return s
}

var _ JobServiceInterface = (*JobService)(nil)

// payloadValidators check API-submitted payloads of the built-in types
// before they reach the store.
var payloadValidators = map[string]func(json.RawMessage) error{
	task.EmailType:   validatePayload[dto.SendEmailPayload],
	task.WebhookType: validatePayload[dto.SendWebhookPayload],
}

// CreateJob validates the request against the task registry, resolves the
// retry budget and enqueues the job.
func (s *JobService) CreateJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	cfg, err := s.tasks.Config(req.Type, s.cfg.DefaultTimeout, s.cfg.DefaultRetries)
	if err != nil {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid job type",
			map[string]any{
				"provided": req.Type,
				"allowed":  s.tasks.Names(),
			},
		)
	}

	payload := []byte(req.Payload)
	if len(payload) == 0 {
		if payload, err = s.tasks.DefaultPayload(req.Type); err != nil {
			return nil, common.Errf(http.StatusInternalServerError, "failed to build default payload")
		}
	} else {
		if s.tasks.Codec(req.Type) != task.JSON {
			return nil, common.Errf(http.StatusBadRequest, "job type %q does not accept JSON payloads", req.Type)
		}
		if !json.Valid(payload) {
			return nil, common.Errf(http.StatusBadRequest, "payload must be valid JSON")
		}
		if validate, ok := payloadValidators[req.Type]; ok {
			if err := validate(req.Payload); err != nil {
				return nil, err
			}
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = cfg.MaxAttempts
	}

	j := &models.Job{
		JobType:     req.Type,
		Group:       req.Group,
		Reference:   req.Reference,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		NotBefore:   req.NotBefore,
	}
	if err := s.repo.Enqueue(ctx, j); err != nil {
		return nil, mapError(err, "failed to add job to database")
	}
	s.observer.JobEnqueued(j.JobType)

	resp := toResponse(j)
	return &resp, nil
}

// AddJob enqueues a job of jobType with the task's default payload.
func (s *JobService) AddJob(ctx context.Context, jobType string) (*dto.JobResponseDTO, error) {
	return s.CreateJob(ctx, &dto.JobCreateDTO{Type: jobType})
}

// GetJobByID retrieves a job by its ID from the repository.
func (s *JobService) GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapError(err, "failed to get job")
	}

	resp := toResponse(j)
	return &resp, nil
}

func (s *JobService) ListJobs(ctx context.Context, filter ListFilter) ([]dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapError(err, "failed to list jobs")
	}
	return toResponses(jobs), nil
}

func (s *JobService) RemoveJob(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapError(err, "failed to remove job")
	}
	return nil
}

// ResetJob makes a job claimable again, keeping its attempt count.
func (s *JobService) ResetJob(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}
	if err := s.repo.Reset(ctx, id); err != nil {
		return mapError(err, "failed to reset job")
	}
	return nil
}

// ResetFailed returns every terminally failed job to pending.
func (s *JobService) ResetFailed(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.Errf(http.StatusRequestTimeout, "request timed out")
	}
	n, err := s.repo.ResetAll(ctx)
	if err != nil {
		return 0, mapError(err, "failed to reset failed jobs")
	}
	return n, nil
}

func (s *JobService) Truncate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}
	if err := s.repo.Truncate(ctx); err != nil {
		return mapError(err, "failed to truncate queue")
	}
	return nil
}

// Stats reports the queue length, unfinished jobs per type, averages over
// finished jobs and the live worker count.
func (s *JobService) Stats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	length, err := s.repo.Length(ctx, "")
	if err != nil {
		return nil, mapError(err, "failed to read queue length")
	}
	pending, err := s.repo.PendingStats(ctx)
	if err != nil {
		return nil, mapError(err, "failed to read pending jobs")
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, mapError(err, "failed to read job stats")
	}
	status, err := s.procs.Status(ctx)
	if err != nil {
		return nil, mapError(err, "failed to read worker status")
	}

	out := &dto.QueueStatsDTO{
		Length:        length,
		Pending:       make(map[string]int64),
		Types:         make([]dto.TypeStatsDTO, 0, len(stats)),
		Workers:       status.Workers,
		LastHeartbeat: status.LastHeartbeat,
	}
	for _, j := range pending {
		out.Pending[j.JobType]++
	}
	for _, st := range stats {
		out.Types = append(out.Types, dto.TypeStatsDTO{
			Type:          st.JobType,
			Count:         st.Count,
			AvgExistence:  st.AvgExistence.Seconds(),
			AvgFetchDelay: st.AvgFetchDelay.Seconds(),
			AvgRuntime:    st.AvgRuntime.Seconds(),
		})
	}

	s.observer.UpdateQueueStats(out.Pending, out.Workers)
	return out, nil
}

// PendingJobs lists unfinished jobs, oldest first.
func (s *JobService) PendingJobs(ctx context.Context) ([]dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	jobs, err := s.repo.PendingStats(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list pending jobs")
	}
	return toResponses(jobs), nil
}

func (s *JobService) Processes(ctx context.Context) ([]dto.ProcessDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	procs, err := s.procs.List(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list workers")
	}

	now := s.now()
	out := make([]dto.ProcessDTO, len(procs))
	for i, p := range procs {
		out[i] = dto.ProcessDTO{
			PID:           p.PID,
			Server:        p.Server,
			Meta:          p.Meta,
			CreatedAt:     p.CreatedAt,
			LastHeartbeat: p.LastHeartbeat,
			Alive:         now.Sub(p.LastHeartbeat) < s.cfg.WorkerTimeout,
		}
	}
	return out, nil
}

// TerminateProcess deregisters a worker; the worker stops at its next
// heartbeat.
func (s *JobService) TerminateProcess(ctx context.Context, pid string) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}
	if err := s.procs.Terminate(ctx, pid); err != nil {
		return mapError(err, "failed to terminate worker")
	}
	return nil
}

// mapError turns store errors into API errors. fallback is the message of
// the 500 case.
func mapError(err error, fallback string) error {
	switch {
	case errors.Is(err, context.Canceled):
		return common.Errf(http.StatusRequestTimeout, "request was canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return common.Errf(http.StatusRequestTimeout, "request timeout")
	case errors.Is(err, ErrJobNotFound):
		return common.Errf(http.StatusNotFound, "job not found")
	case errors.Is(err, process.ErrProcessNotFound):
		return common.Errf(http.StatusNotFound, "worker not found")
	case errors.Is(err, ErrInvalidJobType):
		return common.Errf(http.StatusBadRequest, "%s", ErrInvalidJobType.Error())
	default:
		return common.Wrap(http.StatusInternalServerError, err, fallback)
	}
}

func toResponse(j *models.Job) dto.JobResponseDTO {
	resp := dto.JobResponseDTO{
		ID:             j.ID,
		Type:           j.JobType,
		Group:          j.Group,
		Reference:      j.Reference,
		Status:         j.Status.String(),
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		WorkerKey:      j.WorkerKey,
		FailureMessage: j.FailureMessage,
		NotBefore:      j.NotBefore,
		FetchedAt:      j.FetchedAt,
		RetryAt:        j.RetryAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if json.Valid(j.Payload) {
		resp.Payload = json.RawMessage(j.Payload)
	}
	return resp
}

func toResponses(jobs []models.Job) []dto.JobResponseDTO {
	out := make([]dto.JobResponseDTO, len(jobs))
	for i := range jobs {
		out[i] = toResponse(&jobs[i])
	}
	return out
}
