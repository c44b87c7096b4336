package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
)

// Job is one unit of periodic maintenance. Run returns how many rows it touched.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Runner executes its jobs on a fixed interval. Each job takes a lock
// named after it first, so with several replicas only one of them works.
type Runner struct {
	jobs     []Job
	interval time.Duration
	locker   Locker
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(interval time.Duration, locker Locker, m *metrics.Metrics, jobs ...Job) *Runner {
	if locker == nil {
		locker = LocalLocker{}
	}
	return &Runner{jobs: jobs, interval: interval, locker: locker, metrics: m}
}

// Start runs every job once and then on each tick until Stop.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// RunOnce runs every job sequentially. Failures are logged and counted;
// they never stop the remaining jobs.
func (r *Runner) RunOnce(ctx context.Context) map[string]int64 {
	results := make(map[string]int64, len(r.jobs))
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return results
		}
		n, ran := r.run(ctx, job)
		if ran {
			results[job.Name] = n
		}
	}
	return results
}

func (r *Runner) run(ctx context.Context, job Job) (int64, bool) {
	ok, err := r.locker.Acquire(ctx, job.Name, r.lockTTL())
	if err != nil {
		slog.Error("job lock failed", "action", "job_"+job.Name, "error", err)
		r.metrics.JobRuns.WithLabelValues(job.Name, "lock_error").Inc()
		return 0, false
	}
	if !ok {
		r.metrics.JobRuns.WithLabelValues(job.Name, "skipped").Inc()
		return 0, false
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), job.Name); err != nil {
			slog.Warn("job unlock failed", "job", job.Name, "error", err)
		}
	}()

	n, err := job.Run(ctx)
	if err != nil {
		slog.Error("job failed", "action", "job_"+job.Name, "error", err)
		r.metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
		return 0, false
	}
	r.metrics.JobRuns.WithLabelValues(job.Name, "ok").Inc()
	if n > 0 {
		slog.Info("job completed", "job", job.Name, "affected", n)
	}
	return n, true
}

// lockTTL keeps a crashed holder from blocking the next tick.
func (r *Runner) lockTTL() time.Duration {
	if r.interval > time.Minute {
		return r.interval - 30*time.Second
	}
	return r.interval
}
