package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/process"
	"github.com/joshu-sajeev/pollq/internal/task"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimAttempts bounds how often Claim re-selects after losing the guarded
// update to another worker.
const claimAttempts = 3

const timeoutMessage = "TimeoutError: job exceeded its timeout while fetched"

// rateLockPrefix namespaces the advisory lock keys of rate-limited types.
const rateLockPrefix = "pollq.rate:"

type JobRepository struct {
	db *gorm.DB
	options
}

func NewJobRepository(db *gorm.DB, opts ...Option) *JobRepository {
	return &JobRepository{db: db, options: newOptions(opts)}
}

var _ job.JobRepoInterface = (*JobRepository)(nil)

// Enqueue inserts a new pending job. MaxAttempts must already be resolved
// by the caller; values below one fall back to the default.
func (r *JobRepository) Enqueue(ctx context.Context, j *models.Job) error {
	if strings.TrimSpace(j.JobType) == "" {
		return job.ErrInvalidJobType
	}

	now := r.clock()
	if j.Payload == nil {
		j.Payload = []byte{}
	}
	if j.MaxAttempts < 1 {
		j.MaxAttempts = config.DefaultQueue().DefaultRetries
	}
	j.Status = config.JobStatusPending
	j.Attempts = 0
	j.WorkerKey = ""
	j.FetchedAt, j.RetryAt, j.CompletedAt = nil, nil, nil
	j.CreatedAt, j.UpdatedAt = now, now
	if j.NotBefore != nil {
		nb := j.NotBefore.UTC()
		j.NotBefore = &nb
	}

	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get retrieves a single job record by its ID.
func (r *JobRepository) Get(ctx context.Context, id uint) (*models.Job, error) {
	var j models.Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", job.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// List returns jobs matching filter, oldest first.
func (r *JobRepository) List(ctx context.Context, filter job.ListFilter) ([]models.Job, error) {
	q := r.db.WithContext(ctx).Model(&models.Job{})
	if filter.JobType != "" {
		q = q.Where("job_type = ?", filter.JobType)
	}
	if filter.Group != "" {
		q = q.Where("job_group = ?", filter.Group)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var jobs []models.Job
	if err := q.Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Job{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", job.ErrJobNotFound, id)
	}
	return nil
}

// Claim atomically moves the next eligible job to fetched and assigns it to
// req.WorkerID. It returns nil when nothing is eligible.
//
// Within one transaction it fails expired fetched jobs, drops rate-limited
// types, selects a candidate with FOR UPDATE SKIP LOCKED and flips it with
// an update guarded on the observed status and attempts.
func (r *JobRepository) Claim(ctx context.Context, req job.ClaimRequest) (*models.Job, error) {
	types := enabledTypes(req.Tasks, req.Types)
	if len(types) == 0 {
		return nil, nil
	}

	var claimed *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.clock()

		if req.RequireProcess {
			var n int64
			if err := tx.Model(&models.Process{}).Where("pid = ?", req.WorkerID).Count(&n).Error; err != nil {
				return fmt.Errorf("check process: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %s", process.ErrProcessNotFound, req.WorkerID)
			}
		}

		if err := r.expireFetched(tx, req.Tasks, types, now); err != nil {
			return err
		}

		open, err := r.openTypes(tx, req.Tasks, types, now)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}

		for range claimAttempts {
			var cand models.Job
			q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("job_type IN ?", open).
				Where("((status = ? AND (not_before IS NULL OR not_before <= ?)) OR (status = ? AND (retry_at IS NULL OR retry_at <= ?)))",
					config.JobStatusPending, now, config.JobStatusFailedRetry, now)
			q = applyFilter(q, "job_group", req.Groups)

			err := q.Order("attempts ASC, created_at ASC, id ASC").Take(&cand).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("select job: %w", err)
			}

			res := tx.Model(&models.Job{}).
				Where("id = ? AND status = ? AND attempts = ?", cand.ID, cand.Status, cand.Attempts).
				Updates(map[string]any{
					"status":     config.JobStatusFetched,
					"fetched_at": now,
					"worker_key": req.WorkerID,
					"updated_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("claim job: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				cand.Status = config.JobStatusFetched
				cand.FetchedAt = &now
				cand.WorkerKey = req.WorkerID
				cand.UpdatedAt = now
				claimed = &cand
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// expireFetched fails jobs held past their type's timeout. Exhausted jobs
// become terminal, the rest are immediately retryable.
func (r *JobRepository) expireFetched(tx *gorm.DB, tasks map[string]task.Config, types []string, now time.Time) error {
	for _, t := range types {
		timeout := tasks[t].Timeout
		if timeout <= 0 {
			continue
		}
		cutoff := now.Add(-timeout)

		expired := func() *gorm.DB {
			return tx.Model(&models.Job{}).
				Where("job_type = ? AND status = ? AND fetched_at < ?", t, config.JobStatusFetched, cutoff)
		}

		if err := expired().Where("attempts + 1 >= max_attempts").Updates(map[string]any{
			"status":          config.JobStatusFailedTerminal,
			"attempts":        gorm.Expr("attempts + 1"),
			"failure_message": timeoutMessage,
			"worker_key":      "",
			"completed_at":    now,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("expire fetched jobs: %w", err)
		}

		if err := expired().Where("attempts + 1 < max_attempts").Updates(map[string]any{
			"status":          config.JobStatusFailedRetry,
			"attempts":        gorm.Expr("attempts + 1"),
			"failure_message": timeoutMessage,
			"worker_key":      "",
			"retry_at":        now,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("expire fetched jobs: %w", err)
		}
	}
	return nil
}

// openTypes drops types whose rate limit has not elapsed since their most
// recent fetch. On Postgres each rate-limited type is locked for the rest of
// the transaction so concurrent claimers see each other's fetch; types
// arrive sorted, which keeps the lock order stable.
func (r *JobRepository) openTypes(tx *gorm.DB, tasks map[string]task.Config, types []string, now time.Time) ([]string, error) {
	open := make([]string, 0, len(types))
	for _, t := range types {
		rate := tasks[t].Rate
		if rate <= 0 {
			open = append(open, t)
			continue
		}

		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", rateLockPrefix+t).Error; err != nil {
				return nil, fmt.Errorf("lock rate limit: %w", err)
			}
		}

		var last models.Job
		err := tx.Select("fetched_at").
			Where("job_type = ? AND fetched_at IS NOT NULL", t).
			Order("fetched_at DESC").
			Take(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			open = append(open, t)
		case err != nil:
			return nil, fmt.Errorf("check rate limit: %w", err)
		case last.FetchedAt == nil || now.Sub(*last.FetchedAt) >= rate:
			open = append(open, t)
		}
	}
	return open, nil
}

// MarkDone sets the job done. Repeated calls are no-ops.
func (r *JobRepository) MarkDone(ctx context.Context, id uint) error {
	now := r.clock()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status <> ?", id, config.JobStatusDone).
		Updates(map[string]any{
			"status":       config.JobStatusDone,
			"worker_key":   "",
			"retry_at":     nil,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark done: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkFailed records a failed attempt of a fetched job and returns the
// resulting status. A job that is no longer fetched (reclaimed, reset or
// finished meanwhile) is left untouched and its current status returned.
func (r *JobRepository) MarkFailed(ctx context.Context, id uint, message string) (config.JobStatus, error) {
	var status config.JobStatus
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j models.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&j, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", job.ErrJobNotFound, id)
			}
			return fmt.Errorf("get job: %w", err)
		}
		if j.Status != config.JobStatusFetched {
			status = j.Status
			return nil
		}

		now := r.clock()
		attempts := j.Attempts + 1
		updates := map[string]any{
			"attempts":        attempts,
			"failure_message": message,
			"worker_key":      "",
			"updated_at":      now,
		}
		if attempts >= max(j.MaxAttempts, 1) {
			status = config.JobStatusFailedTerminal
			updates["completed_at"] = now
			updates["retry_at"] = nil
		} else {
			status = config.JobStatusFailedRetry
			updates["retry_at"] = now.Add(r.backoff.Delay(attempts))
		}
		updates["status"] = status

		if err := tx.Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Reset moves one job back to pending, keeping its attempt count.
func (r *JobRepository) Reset(ctx context.Context, id uint) error {
	now := r.clock()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       config.JobStatusPending,
			"worker_key":   "",
			"fetched_at":   nil,
			"retry_at":     nil,
			"completed_at": nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("reset job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", job.ErrJobNotFound, id)
	}
	return nil
}

// ResetAll moves every failed job back to pending with zero attempts.
// Done jobs are not touched.
func (r *JobRepository) ResetAll(ctx context.Context) (int64, error) {
	now := r.clock()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status IN ?", []config.JobStatus{config.JobStatusFailedRetry, config.JobStatusFailedTerminal}).
		Updates(map[string]any{
			"status":       config.JobStatusPending,
			"attempts":     0,
			"worker_key":   "",
			"fetched_at":   nil,
			"retry_at":     nil,
			"completed_at": nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reset failed jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CleanOldJobs deletes finished jobs completed before now-retention.
// A non-positive retention disables cleanup.
func (r *JobRepository) CleanOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := r.clock().Add(-retention)
	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at IS NOT NULL AND completed_at < ?", config.FinishedStatuses, cutoff).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("clean old jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Truncate deletes every job.
func (r *JobRepository) Truncate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("truncate jobs: %w", err)
	}
	return nil
}

// Length counts unfinished jobs, optionally of one type.
func (r *JobRepository) Length(ctx context.Context, jobType string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Job{}).Where("status IN ?", config.UnfinishedStatuses)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// PendingStats lists unfinished jobs, oldest first.
func (r *JobRepository) PendingStats(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status IN ?", config.UnfinishedStatuses).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("pending stats: %w", err)
	}
	return jobs, nil
}

// Stats aggregates done jobs per type. Averages are computed in Go so the
// same code serves Postgres and SQLite.
func (r *JobRepository) Stats(ctx context.Context) ([]job.TypeStats, error) {
	var rows []models.Job
	if err := r.db.WithContext(ctx).
		Select("job_type", "created_at", "not_before", "fetched_at", "completed_at").
		Where("status = ? AND fetched_at IS NOT NULL AND completed_at IS NOT NULL", config.JobStatusDone).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	type sums struct {
		n         int64
		existence time.Duration
		delay     time.Duration
		runtime   time.Duration
	}
	acc := map[string]*sums{}
	for _, j := range rows {
		s, ok := acc[j.JobType]
		if !ok {
			s = &sums{}
			acc[j.JobType] = s
		}
		available := j.CreatedAt
		if j.NotBefore != nil && j.NotBefore.After(available) {
			available = *j.NotBefore
		}
		s.n++
		s.existence += j.CompletedAt.Sub(j.CreatedAt)
		s.delay += j.FetchedAt.Sub(available)
		s.runtime += j.CompletedAt.Sub(*j.FetchedAt)
	}

	out := make([]job.TypeStats, 0, len(acc))
	for t, s := range acc {
		n := time.Duration(s.n)
		out = append(out, job.TypeStats{
			JobType:       t,
			Count:         s.n,
			AvgExistence:  s.existence / n,
			AvgFetchDelay: s.delay / n,
			AvgRuntime:    s.runtime / n,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobType < out[k].JobType })
	return out, nil
}

// Types returns every job type present in the table.
func (r *JobRepository) Types(ctx context.Context) ([]string, error) {
	var types []string
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Distinct("job_type").
		Order("job_type").
		Pluck("job_type", &types).Error; err != nil {
		return nil, fmt.Errorf("job types: %w", err)
	}
	return types, nil
}

// enabledTypes intersects the configured tasks with the type filter.
func enabledTypes(tasks map[string]task.Config, filter []string) []string {
	include, exclude := splitFilter(filter)
	out := make([]string, 0, len(tasks))
	for t := range tasks {
		if len(include) > 0 && !include[t] {
			continue
		}
		if exclude[t] {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// applyFilter adds IN / NOT IN conditions for a filter where entries
// prefixed with "-" exclude.
func applyFilter(q *gorm.DB, column string, filter []string) *gorm.DB {
	include, exclude := splitFilter(filter)
	if len(include) > 0 {
		q = q.Where(column+" IN ?", keys(include))
	}
	if len(exclude) > 0 {
		q = q.Where(column+" NOT IN ?", keys(exclude))
	}
	return q
}

func splitFilter(filter []string) (include, exclude map[string]bool) {
	include, exclude = map[string]bool{}, map[string]bool{}
	for _, f := range filter {
		f = strings.TrimSpace(f)
		switch {
		case f == "" || f == "-":
		case strings.HasPrefix(f, "-"):
			exclude[f[1:]] = true
		default:
			include[f] = true
		}
	}
	return include, exclude
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
