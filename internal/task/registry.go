package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

type entry struct {
	task Task
	opts options
}

// Registry maps job-type names to tasks and their metadata.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a task under name.
func (r *Registry) Register(name string, t Task, opts ...Option) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("task name is required")
	}
	if t == nil {
		return fmt.Errorf("task %q: nil handler", name)
	}

	o := options{codec: JSON}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg.MaxAttempts < 0 || o.cfg.Timeout < 0 || o.cfg.Rate < 0 {
		return fmt.Errorf("task %q: negative config", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	r.entries[name] = entry{task: t, opts: o}
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(name string, t Task, opts ...Option) {
	if err := r.Register(name, t, opts...); err != nil {
		panic(err)
	}
}

// Resolve returns the task registered under name.
func (r *Registry) Resolve(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.task, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Config resolves the metadata for name, filling zero values from the
// given defaults.
func (r *Registry) Config(name string, defaultTimeout time.Duration, defaultAttempts int) (Config, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return resolve(e.opts.cfg, defaultTimeout, defaultAttempts), nil
}

// Configs resolves the metadata of every registered task.
func (r *Registry) Configs(defaultTimeout time.Duration, defaultAttempts int) map[string]Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Config, len(r.entries))
	for name, e := range r.entries {
		out[name] = resolve(e.opts.cfg, defaultTimeout, defaultAttempts)
	}
	return out
}

// Codec returns the payload codec for name, JSON when unregistered.
func (r *Registry) Codec(name string) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok && e.opts.codec != nil {
		return e.opts.codec
	}
	return JSON
}

// Encode serializes v with the codec registered for name.
func (r *Registry) Encode(name string, v any) ([]byte, error) {
	data, err := r.Codec(name).Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %q: %w", name, err)
	}
	return data, nil
}

// DefaultPayload returns the payload used when name is added without one.
func (r *Registry) DefaultPayload(name string) ([]byte, error) {
	t, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if a, ok := t.(Adder); ok {
		return a.DefaultPayload()
	}
	return []byte{}, nil
}

func resolve(c Config, defaultTimeout time.Duration, defaultAttempts int) Config {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultAttempts
	}
	return c
}
