package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, []byte, uint) error { return nil }

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Registry)
		task    string
		handler Task
		opts    []Option
		wantErr error
		errMsg  string
	}{
		{
			name:    "registers a new task",
			task:    "echo",
			handler: TaskFunc(noop),
		},
		{
			name:    "empty name",
			task:    "  ",
			handler: TaskFunc(noop),
			errMsg:  "task name is required",
		},
		{
			name:   "nil handler",
			task:   "echo",
			errMsg: "nil handler",
		},
		{
			name:    "negative attempts",
			task:    "echo",
			handler: TaskFunc(noop),
			opts:    []Option{WithMaxAttempts(-1)},
			errMsg:  "negative config",
		},
		{
			name: "duplicate name",
			setup: func(r *Registry) {
				r.MustRegister("echo", TaskFunc(noop))
			},
			task:    "echo",
			handler: TaskFunc(noop),
			wantErr: ErrDuplicateTask,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if tt.setup != nil {
				tt.setup(r)
			}

			err := r.Register(tt.task, tt.handler, tt.opts...)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			default:
				require.NoError(t, err)
				_, ok := r.Resolve(tt.task)
				assert.True(t, ok)
			}
		})
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("missing")
	assert.False(t, ok)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("webhook", TaskFunc(noop))
	r.MustRegister("echo", TaskFunc(noop))
	r.MustRegister("email", TaskFunc(noop))

	assert.Equal(t, []string{"echo", "email", "webhook"}, r.Names())
}

func TestRegistry_Configs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("echo", TaskFunc(noop))
	r.MustRegister("solo", TaskFunc(noop),
		WithTimeout(time.Minute),
		WithMaxAttempts(2),
		WithRate(5*time.Second),
	)

	cfgs := r.Configs(10*time.Minute, 4)

	assert.Equal(t, Config{Timeout: 10 * time.Minute, MaxAttempts: 4}, cfgs["echo"])
	assert.Equal(t, Config{Timeout: time.Minute, MaxAttempts: 2, Rate: 5 * time.Second}, cfgs["solo"])

	cfg, err := r.Config("solo", 10*time.Minute, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxAttempts)

	_, err = r.Config("missing", 10*time.Minute, 4)
	assert.True(t, errors.Is(err, ErrUnknownTask))
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("echo", TaskFunc(noop))

	assert.Panics(t, func() {
		r.MustRegister("echo", TaskFunc(noop))
	})
}

func TestRegistry_DefaultPayload(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("plain", TaskFunc(noop))
	r.MustRegister("echo", Echo(discardLogger()))

	data, err := r.DefaultPayload("plain")
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = r.DefaultPayload("echo")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	_, err = r.DefaultPayload("missing")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRegistry_CodecPerType(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("json", TaskFunc(noop))
	r.MustRegister("gob", TaskFunc(noop), WithCodec(Gob))

	assert.Equal(t, JSON, r.Codec("json"))
	assert.Equal(t, Gob, r.Codec("gob"))
	assert.Equal(t, JSON, r.Codec("unregistered"))
}
