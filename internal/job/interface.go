package job

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/task"
)

// ClaimRequest selects the next job a worker may run.
type ClaimRequest struct {
	WorkerID string
	// Tasks lists the enabled job types with their resolved config. Jobs of
	// other types are never claimed.
	Tasks map[string]task.Config
	// Groups and Types restrict the candidates. Entries prefixed with "-"
	// exclude instead of include.
	Groups []string
	Types  []string
	// RequireProcess makes Claim fail with process.ErrProcessNotFound when
	// WorkerID has no row in the process table.
	RequireProcess bool
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	JobType string
	Group   string
	Status  config.JobStatus
	Limit   int
}

// TypeStats aggregates finished jobs of one type.
type TypeStats struct {
	JobType       string
	Count         int64
	AvgExistence  time.Duration
	AvgFetchDelay time.Duration
	AvgRuntime    time.Duration
}

// JobRepoInterface defines the contract for the job store.
type JobRepoInterface interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uint) (*models.Job, error)
	List(ctx context.Context, filter ListFilter) ([]models.Job, error)
	Delete(ctx context.Context, id uint) error

	Claim(ctx context.Context, req ClaimRequest) (*models.Job, error)
	MarkDone(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, message string) (config.JobStatus, error)

	Reset(ctx context.Context, id uint) error
	ResetAll(ctx context.Context) (int64, error)
	CleanOldJobs(ctx context.Context, retention time.Duration) (int64, error)
	Truncate(ctx context.Context) error

	Length(ctx context.Context, jobType string) (int64, error)
	PendingStats(ctx context.Context) ([]models.Job, error)
	Stats(ctx context.Context) ([]TypeStats, error)
	Types(ctx context.Context) ([]string, error)
}

// JobServiceInterface defines the contract for the administrative operations.
type JobServiceInterface interface {
	CreateJob(ctx context.Context, dto *dto.JobCreateDTO) (*dto.JobResponseDTO, error)
	AddJob(ctx context.Context, jobType string) (*dto.JobResponseDTO, error)
	GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]dto.JobResponseDTO, error)
	RemoveJob(ctx context.Context, id uint) error
	ResetJob(ctx context.Context, id uint) error
	ResetFailed(ctx context.Context) (int64, error)
	Truncate(ctx context.Context) error
	Stats(ctx context.Context) (*dto.QueueStatsDTO, error)
	PendingJobs(ctx context.Context) ([]dto.JobResponseDTO, error)
	Processes(ctx context.Context) ([]dto.ProcessDTO, error)
	TerminateProcess(ctx context.Context, pid string) error
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Create(c *gin.Context)
	Add(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
	Remove(c *gin.Context)
	Reset(c *gin.Context)
	ResetFailed(c *gin.Context)
	Truncate(c *gin.Context)
	Stats(c *gin.Context)
	Pending(c *gin.Context)
	Processes(c *gin.Context)
	Terminate(c *gin.Context)
}
