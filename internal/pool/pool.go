// Package pool runs several worker run-loops inside one process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joshu-sajeev/pollq/internal/worker"
)

type WorkerPool struct {
	workers []*worker.Worker
	wg      sync.WaitGroup
}

// NewWorkerPool builds count workers. Each gets its own identity so the
// process registry tracks them separately; a single worker keeps baseID.
// Pooled workers are built with worker.WithSharedProcess, so terminating one
// stops only that worker.
func NewWorkerPool(count int, baseID string, build func(id string, opts ...worker.Option) *worker.Worker) *WorkerPool {
	if count < 1 {
		count = 1
	}
	p := &WorkerPool{}
	if count == 1 {
		p.workers = append(p.workers, build(baseID))
		return p
	}
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("%s-%d", baseID, i)
		p.workers = append(p.workers, build(id, worker.WithSharedProcess()))
	}
	return p
}

func (p *WorkerPool) Size() int { return len(p.workers) }

// Run starts every worker and blocks until all of them stopped. A worker
// that was killed is a normal stop; other failures are joined.
func (p *WorkerPool) Run(ctx context.Context) error {
	errs := make([]error, len(p.workers))
	for i, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, worker.ErrKilled) {
				errs[i] = fmt.Errorf("worker %s: %w", w.ID(), err)
			}
		}()
	}
	p.wg.Wait()
	return errors.Join(errs...)
}
