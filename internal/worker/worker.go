// Package worker runs the claim-and-execute loop of one queue worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/process"
	"github.com/joshu-sajeev/pollq/internal/task"
)

// ErrKilled is returned by Run when the worker's registration disappeared,
// which is how an operator stops a worker from outside.
var ErrKilled = errors.New("worker was removed from the process registry")

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Observer receives run-loop events. *metrics.Collector implements it.
type Observer interface {
	JobClaimed(jobType string)
	JobFinished(jobType string, status config.JobStatus, d time.Duration)
	JobAbandoned(jobType string)
	Heartbeat()
	Cleanup(jobs, processes int64)
}

type nopObserver struct{}

func (nopObserver) JobClaimed(string) {}
func (nopObserver) JobFinished(string, config.JobStatus, time.Duration) {}
func (nopObserver) JobAbandoned(string) {}
func (nopObserver) Heartbeat() {}
func (nopObserver) Cleanup(int64, int64) {}

type Worker struct {
	id    string
	jobs  job.JobRepoInterface
	procs process.Registry
	tasks *task.Registry
	cfg   config.Queue

	groups         []string
	types          []string
	requireProcess bool
	sharedProcess  bool

	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	roll     func() int

	state   atomic.Int32
	started time.Time
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

// WithGroups restricts claims to the given groups; "-name" excludes.
func WithGroups(groups ...string) Option {
	return func(w *Worker) { w.groups = groups }
}

// WithTypes restricts claims to the given job types; "-name" excludes.
func WithTypes(types ...string) Option {
	return func(w *Worker) { w.types = types }
}

// WithRequireProcess makes every claim verify the worker's registration in
// the same transaction. Only meaningful with the table registry.
func WithRequireProcess(on bool) Option {
	return func(w *Worker) { w.requireProcess = on }
}

// WithSharedProcess records that other workers run in the same OS process,
// so terminating this one must not signal it.
func WithSharedProcess() Option {
	return func(w *Worker) { w.sharedProcess = true }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithRoll replaces the cleanup dice. roll returns a value in [0,100).
func WithRoll(roll func() int) Option {
	return func(w *Worker) { w.roll = roll }
}

func New(id string, jobs job.JobRepoInterface, procs process.Registry, tasks *task.Registry, cfg config.Queue, opts ...Option) *Worker {
	w := &Worker{
		id:       id,
		jobs:     jobs,
		procs:    procs,
		tasks:    tasks,
		cfg:      cfg,
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
		roll:     func() int { return rand.IntN(100) },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("worker_id", id))
	return w
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev != s {
		w.logger.Debug("worker state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run registers the worker and processes jobs until ctx is cancelled, the
// worker runs out of work or time, or it is killed. Cancellation is observed
// between jobs; a running handler is never interrupted by it.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateStarting)

	meta := process.LocalMeta()
	meta["groups"] = strings.Join(w.groups, ",")
	meta["types"] = strings.Join(w.types, ",")
	if w.sharedProcess {
		meta[process.MetaSharedProcess] = true
	}
	if err := w.procs.Add(ctx, w.id, meta); err != nil {
		w.setState(StateStopped)
		return fmt.Errorf("register worker: %w", err)
	}

	w.started = w.now()
	w.setState(StateRunning)
	w.logger.Info("worker started",
		slog.Any("groups", w.groups),
		slog.Any("types", w.types),
		slog.Any("tasks", w.tasks.Names()),
	)

	tasks := w.tasks.Configs(w.cfg.DefaultTimeout, w.cfg.DefaultRetries)

	var runErr error
	for w.State() == StateRunning {
		if ctx.Err() != nil {
			w.logger.Info("shutdown requested, draining")
			w.setState(StateDraining)
			break
		}

		next, err := w.iterate(ctx, tasks)
		if err != nil {
			runErr = err
		}
		w.setState(next)
	}

	if w.State() == StateStopped {
		if errors.Is(runErr, ErrKilled) {
			w.logger.Warn("worker was killed, stopping")
		} else {
			w.logger.Error("worker stopped", slog.Any("error", runErr))
		}
		return runErr
	}

	return w.drain(ctx)
}

// iterate runs one pass of the loop body and returns the next state.
func (w *Worker) iterate(ctx context.Context, tasks map[string]task.Config) (State, error) {
	opCtx, cancel := w.storeContext(ctx)
	defer cancel()

	if err := w.procs.Update(opCtx, w.id); err != nil {
		if errors.Is(err, process.ErrProcessNotFound) {
			return StateStopped, ErrKilled
		}
		return StateStopped, fmt.Errorf("heartbeat: %w", err)
	}
	w.observer.Heartbeat()

	j, err := w.jobs.Claim(opCtx, job.ClaimRequest{
		WorkerID:       w.id,
		Tasks:          tasks,
		Groups:         w.groups,
		Types:          w.types,
		RequireProcess: w.requireProcess,
	})
	if err != nil {
		if errors.Is(err, process.ErrProcessNotFound) {
			return StateStopped, ErrKilled
		}
		return StateStopped, fmt.Errorf("claim job: %w", err)
	}

	next := StateRunning
	if j != nil {
		w.observer.JobClaimed(j.JobType)
		if err := w.process(ctx, j, tasks[j.JobType]); err != nil {
			return StateStopped, err
		}
	} else if w.cfg.ExitWhenIdle {
		w.logger.Info("nothing to do, exiting")
		next = StateDraining
	} else {
		w.logger.Debug("nothing to do, sleeping", slog.Duration("sleep", w.cfg.SleepTime))
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.SleepTime):
		}
	}

	if w.cfg.MaxRuntime > 0 && w.now().Sub(w.started) >= w.cfg.MaxRuntime {
		w.logger.Info("max runtime reached, exiting", slog.Duration("max_runtime", w.cfg.MaxRuntime))
		next = StateDraining
	}

	if next == StateRunning && w.roll() < w.cfg.GCProbability {
		gcCtx, cancel := w.storeContext(ctx)
		defer cancel()
		w.cleanup(gcCtx)
	}
	return next, nil
}

// process runs the handler for j and records the outcome. Only store errors
// are returned.
func (w *Worker) process(ctx context.Context, j *models.Job, cfg task.Config) error {
	log := w.logger.With(slog.Uint64("job_id", uint64(j.ID)), slog.String("job_type", j.JobType))
	log.Info("running job", slog.Int("attempt", j.Attempts+1))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}

	start := w.now()
	runErr, abandoned := w.execute(ctx, j, timeout)
	elapsed := w.now().Sub(start)

	if abandoned {
		log.Warn("job exceeded its timeout, abandoning", slog.Duration("timeout", timeout))
		w.observer.JobAbandoned(j.JobType)
		return nil
	}

	storeCtx, cancel := w.storeContext(ctx)
	defer cancel()

	if runErr == nil {
		if err := w.jobs.MarkDone(storeCtx, j.ID); err != nil {
			if errors.Is(err, job.ErrJobNotFound) {
				w.jobVanished(log, j)
				return nil
			}
			return fmt.Errorf("mark job %d done: %w", j.ID, err)
		}
		w.observer.JobFinished(j.JobType, config.JobStatusDone, elapsed)
		log.Info("job done", slog.Duration("runtime", elapsed))
		return nil
	}

	kind, msg := faultKind(runErr), runErr.Error()
	status, err := w.jobs.MarkFailed(storeCtx, j.ID, kind+": "+msg)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			w.jobVanished(log, j)
			return nil
		}
		return fmt.Errorf("mark job %d failed: %w", j.ID, err)
	}
	w.observer.JobFinished(j.JobType, status, elapsed)

	outcome := "will be retried"
	if status == config.JobStatusFailedTerminal {
		outcome = "reached max attempts"
	}
	log.Error("job failed, "+outcome,
		slog.String("fault", kind),
		slog.String("error", msg),
		slog.String("status", status.String()),
	)
	return nil
}

// jobVanished handles a job deleted while it ran, e.g. by an admin truncate.
func (w *Worker) jobVanished(log *slog.Logger, j *models.Job) {
	log.Warn("job was removed while running, result dropped")
	w.observer.JobAbandoned(j.JobType)
}

// execute runs the handler in its own goroutine so a hung handler cannot
// hold the loop past timeout. The handler's context is detached from ctx:
// shutdown waits for it, the timeout does not.
func (w *Worker) execute(ctx context.Context, j *models.Job, timeout time.Duration) (err error, abandoned bool) {
	t, ok := w.tasks.Resolve(j.JobType)
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrUnknownTask, j.JobType), false
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runSafely(runCtx, t, j)
	}()

	// The registry reaps workers silent for WorkerTimeout, and a job may
	// run longer than that.
	beat := time.NewTicker(w.heartbeatInterval())
	defer beat.Stop()

	for {
		select {
		case err := <-done:
			return err, false
		case <-runCtx.Done():
			return runCtx.Err(), true
		case <-beat.C:
			w.heartbeat(ctx)
		}
	}
}

// heartbeat touches the registration while a job runs. A removed record is
// acted on by the next loop pass, after the job's outcome is stored.
func (w *Worker) heartbeat(ctx context.Context) {
	hbCtx, cancel := w.storeContext(ctx)
	defer cancel()

	if err := w.procs.Update(hbCtx, w.id); err != nil {
		w.logger.Warn("heartbeat during job failed", slog.Any("error", err))
		return
	}
	w.observer.Heartbeat()
}

func (w *Worker) heartbeatInterval() time.Duration {
	if d := w.cfg.WorkerTimeout / 2; d > 0 {
		return d
	}
	return time.Second
}

// storeContext bounds one store round trip. It survives cancellation of ctx
// so shutdown can still record results and deregister.
func (w *Worker) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WorkerTimeout)
}

// cleanup deletes expired finished jobs and stale worker registrations.
// Failures are logged; they never stop the loop.
func (w *Worker) cleanup(ctx context.Context) {
	jobs, err := w.jobs.CleanOldJobs(ctx, w.cfg.CleanupTimeout)
	if err != nil {
		w.logger.Warn("cleanup jobs failed", slog.Any("error", err))
	}
	procs, err := w.procs.CleanKilledProcesses(ctx)
	if err != nil {
		w.logger.Warn("cleanup processes failed", slog.Any("error", err))
	}
	w.observer.Cleanup(jobs, procs)
	if jobs > 0 || procs > 0 {
		w.logger.Info("cleanup", slog.Int64("jobs", jobs), slog.Int64("processes", procs))
	}
}

func (w *Worker) drain(ctx context.Context) error {
	storeCtx, cancel := w.storeContext(ctx)
	defer cancel()

	w.cleanup(storeCtx)

	err := w.procs.Remove(storeCtx, w.id)
	w.setState(StateStopped)
	if err != nil {
		return fmt.Errorf("unregister worker: %w", err)
	}
	w.logger.Info("worker stopped", slog.Duration("uptime", w.now().Sub(w.started)))
	return nil
}
