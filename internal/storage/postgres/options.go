package postgres

import (
	"time"

	"github.com/joshu-sajeev/pollq/internal/backoff"
)

type options struct {
	now     func() time.Time
	backoff backoff.Strategy
}

// Option configures a repository.
type Option func(*options)

// WithClock replaces time.Now. Timestamps are always stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithBackoff sets the retry delay strategy used by MarkFailed.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) {
		o.backoff = s
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, backoff: backoff.DefaultStrategy()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) clock() time.Time {
	return o.now().UTC()
}
