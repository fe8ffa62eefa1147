package task

import (
	"context"
	"time"
)

// Task executes one claimed job. A non-nil error marks the job failed.
type Task interface {
	Run(ctx context.Context, payload []byte, jobID uint) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context, payload []byte, jobID uint) error

func (f TaskFunc) Run(ctx context.Context, payload []byte, jobID uint) error {
	return f(ctx, payload, jobID)
}

// Adder is implemented by tasks that can be enqueued by name without a
// caller-supplied payload (CLI "add", POST /types/:type/jobs).
type Adder interface {
	DefaultPayload() ([]byte, error)
}

// Config is the per-type metadata the job store and run-loop consult.
// Zero values fall back to the queue defaults when resolved.
type Config struct {
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	// Rate is the minimum interval between two claims of this type.
	Rate time.Duration `json:"rate,omitempty" yaml:"rate,omitempty"`
}

// Option configures a registered task.
type Option func(*options)

type options struct {
	cfg   Config
	codec Codec
}

// WithTimeout sets how long a fetched job may run before it is reclaimed.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.Timeout = d
	}
}

// WithMaxAttempts sets the attempt limit stored on new jobs of this type.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.cfg.MaxAttempts = n
	}
}

// WithRate limits claims of this type to one per interval.
func WithRate(d time.Duration) Option {
	return func(o *options) {
		o.cfg.Rate = d
	}
}

// WithCodec overrides the payload codec for this type.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}
