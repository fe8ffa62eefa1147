package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) Enqueue(ctx context.Context, j *models.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *JobRepoMock) Get(ctx context.Context, id uint) (*models.Job, error) {
	args := m.Called(ctx, id)

	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *JobRepoMock) List(ctx context.Context, filter job.ListFilter) ([]models.Job, error) {
	args := m.Called(ctx, filter)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobRepoMock) Claim(ctx context.Context, req job.ClaimRequest) (*models.Job, error) {
	args := m.Called(ctx, req)

	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *JobRepoMock) MarkDone(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobRepoMock) MarkFailed(ctx context.Context, id uint, msg string) (config.JobStatus, error) {
	args := m.Called(ctx, id, msg)

	status, _ := args.Get(0).(config.JobStatus)
	return status, args.Error(1)
}

func (m *JobRepoMock) Reset(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobRepoMock) ResetAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobRepoMock) CleanOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobRepoMock) Truncate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *JobRepoMock) Length(ctx context.Context, jobType string) (int64, error) {
	args := m.Called(ctx, jobType)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobRepoMock) PendingStats(ctx context.Context) ([]models.Job, error) {
	args := m.Called(ctx)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) Stats(ctx context.Context) ([]job.TypeStats, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).([]job.TypeStats)
	return stats, args.Error(1)
}

func (m *JobRepoMock) Types(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)

	types, _ := args.Get(0).([]string)
	return types, args.Error(1)
}

var _ job.JobRepoInterface = (*JobRepoMock)(nil)
