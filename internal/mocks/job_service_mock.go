package mocks

import (
	"context"

	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/stretchr/testify/mock"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) CreateJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.JobResponseDTO), args.Error(1)
}

func (m *JobServiceMock) AddJob(ctx context.Context, jobType string) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, jobType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.JobResponseDTO), args.Error(1)
}

func (m *JobServiceMock) GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.JobResponseDTO), args.Error(1)
}

func (m *JobServiceMock) ListJobs(ctx context.Context, filter job.ListFilter) ([]dto.JobResponseDTO, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dto.JobResponseDTO), args.Error(1)
}

func (m *JobServiceMock) RemoveJob(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobServiceMock) ResetJob(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobServiceMock) ResetFailed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobServiceMock) Truncate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *JobServiceMock) Stats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.QueueStatsDTO), args.Error(1)
}

func (m *JobServiceMock) PendingJobs(ctx context.Context) ([]dto.JobResponseDTO, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dto.JobResponseDTO), args.Error(1)
}

func (m *JobServiceMock) Processes(ctx context.Context) ([]dto.ProcessDTO, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dto.ProcessDTO), args.Error(1)
}

func (m *JobServiceMock) TerminateProcess(ctx context.Context, pid string) error {
	args := m.Called(ctx, pid)
	return args.Error(0)
}

var _ job.JobServiceInterface = (*JobServiceMock)(nil)
