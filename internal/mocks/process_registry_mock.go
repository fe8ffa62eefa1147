package mocks

import (
	"context"

	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/process"
	"github.com/stretchr/testify/mock"
)

type ProcessRegistryMock struct {
	mock.Mock
}

func (m *ProcessRegistryMock) Add(ctx context.Context, pid string, meta map[string]any) error {
	args := m.Called(ctx, pid, meta)
	return args.Error(0)
}

func (m *ProcessRegistryMock) Update(ctx context.Context, pid string) error {
	args := m.Called(ctx, pid)
	return args.Error(0)
}

func (m *ProcessRegistryMock) Remove(ctx context.Context, pid string) error {
	args := m.Called(ctx, pid)
	return args.Error(0)
}

func (m *ProcessRegistryMock) Terminate(ctx context.Context, pid string) error {
	args := m.Called(ctx, pid)
	return args.Error(0)
}

func (m *ProcessRegistryMock) CleanKilledProcesses(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ProcessRegistryMock) Status(ctx context.Context) (process.Status, error) {
	args := m.Called(ctx)

	st, _ := args.Get(0).(process.Status)
	return st, args.Error(1)
}

func (m *ProcessRegistryMock) List(ctx context.Context) ([]models.Process, error) {
	args := m.Called(ctx)

	procs, _ := args.Get(0).([]models.Process)
	return procs, args.Error(1)
}

var _ process.Registry = (*ProcessRegistryMock)(nil)
