// Package metrics exposes queue and worker counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every queue metric. Each Collector registers with its own
// registry so several can coexist in one process (tests, api + worker).
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued  *prometheus.CounterVec
	jobsClaimed   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsAbandoned *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	heartbeats     prometheus.Counter
	cleanedJobs    prometheus.Counter
	cleanedWorkers prometheus.Counter

	jobsPending   *prometheus.GaugeVec
	workersActive prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}, []string{"job_type"}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_claimed_total",
			Help: "Total number of jobs claimed by workers",
		}, []string{"job_type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		}, []string{"job_type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_failed_total",
			Help: "Total number of failed attempts, by resulting status",
		}, []string{"job_type", "status"}),
		jobsAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_abandoned_total",
			Help: "Total number of jobs abandoned after exceeding their timeout",
		}, []string{"job_type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Handler run time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_worker_heartbeats_total",
			Help: "Total number of worker heartbeats",
		}),
		cleanedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_cleanup_jobs_deleted_total",
			Help: "Total number of finished jobs deleted by cleanup",
		}),
		cleanedWorkers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_cleanup_processes_deleted_total",
			Help: "Total number of stale worker registrations deleted by cleanup",
		}),
		jobsPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs_pending",
			Help: "Current number of unfinished jobs",
		}, []string{"job_type"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_workers_active",
			Help: "Current number of live workers",
		}),
	}

	c.registry.MustRegister(
		c.jobsEnqueued,
		c.jobsClaimed,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsAbandoned,
		c.jobDuration,
		c.heartbeats,
		c.cleanedJobs,
		c.cleanedWorkers,
		c.jobsPending,
		c.workersActive,
	)
	return c
}

func (c *Collector) JobEnqueued(jobType string) {
	c.jobsEnqueued.WithLabelValues(jobType).Inc()
}

func (c *Collector) JobClaimed(jobType string) {
	c.jobsClaimed.WithLabelValues(jobType).Inc()
}

// JobFinished records the outcome of one handler run.
func (c *Collector) JobFinished(jobType string, status config.JobStatus, d time.Duration) {
	c.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
	if status == config.JobStatusDone {
		c.jobsCompleted.WithLabelValues(jobType).Inc()
		return
	}
	c.jobsFailed.WithLabelValues(jobType, status.String()).Inc()
}

func (c *Collector) JobAbandoned(jobType string) {
	c.jobsAbandoned.WithLabelValues(jobType).Inc()
}

func (c *Collector) Heartbeat() {
	c.heartbeats.Inc()
}

func (c *Collector) Cleanup(jobs, processes int64) {
	c.cleanedJobs.Add(float64(jobs))
	c.cleanedWorkers.Add(float64(processes))
}

// UpdateQueueStats sets the pending gauges from a per-type count.
func (c *Collector) UpdateQueueStats(pending map[string]int64, workers int) {
	c.jobsPending.Reset()
	for jobType, n := range pending {
		c.jobsPending.WithLabelValues(jobType).Set(float64(n))
	}
	c.workersActive.Set(float64(workers))
}

// Handler serves this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve runs a /metrics listener on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
