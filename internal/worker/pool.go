// Package worker provides the polling pool that drives the claim/execute/
// report cycle over the jobs table.
//
// Each pool runs N independent polling loops plus one reaper goroutine. A
// loop polls the ready index, attempts the claim CAS on each candidate in
// order, executes the registered handler for the winner, and records the
// outcome. The reaper returns stale running rows to circulation when a
// worker crashes without reporting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/queue"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/store"
)

// Config holds pool tuning parameters (sourced from config.Config).
type Config struct {
	Concurrency    int
	PollInterval   time.Duration
	ClaimBatchSize int
	Backoff        queue.BackoffPolicy
	LeaseDuration  time.Duration
	ReapInterval   time.Duration
}

// Pool claims and executes jobs. Multiple pools (separate processes included)
// poll the same table safely: the claim CAS in the store is the only
// serialization point.
type Pool struct {
	store    *store.Store
	registry *queue.Registry
	cfg      Config
	poolID   string
	wg       sync.WaitGroup
}

// New creates a Pool. A random poolID distinguishes this process in the
// claimed_by column; each loop appends its index.
func New(st *store.Store, reg *queue.Registry, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimBatchSize < 1 {
		cfg.ClaimBatchSize = 10
	}
	return &Pool{
		store:    st,
		registry: reg,
		cfg:      cfg,
		poolID:   uuid.New().String(),
	}
}

// Start launches the polling loops and the reaper, then blocks until ctx is
// cancelled. In-flight jobs finish and report before Start returns.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s/%d", p.poolID, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runLoop(ctx, workerID)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReaper(ctx)
	}()

	p.wg.Wait()
	slog.Info("worker pool stopped", "pool_id", p.poolID)
}

// RunOnce drains the ready queue from a single loop until no candidate can be
// claimed, then returns. Used in tests only.
func (p *Pool) RunOnce(ctx context.Context) {
	p.pollOnce(ctx, p.poolID+"/once")
}

// ReapOnce runs a single reaper pass. Used in tests only.
func (p *Pool) ReapOnce(ctx context.Context) (int, error) {
	return p.store.ReapStale(ctx, p.cfg.LeaseDuration, time.Now().UTC())
}

// runLoop polls for ready jobs until ctx is cancelled. Uses time.NewTicker
// (not time.After) to avoid timer leaks; the tick is the explicit suspension
// point that bounds database load when the queue is idle.
func (p *Pool) runLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("worker loop started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker loop stopping", "worker_id", workerID)
			return
		case <-ticker.C:
			p.pollOnce(ctx, workerID)
		}
	}
}

// pollOnce drains ready work: it lists candidates, walks them attempting the
// claim CAS, executes each win, and repeats until a full candidate pass
// yields no claim (queue empty or everything taken by other workers).
func (p *Pool) pollOnce(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}

		ids, err := p.store.ListReady(ctx, p.cfg.ClaimBatchSize, time.Now().UTC())
		if err != nil {
			slog.Error("list ready", "worker_id", workerID, "error", err)
			return
		}
		if len(ids) == 0 {
			return
		}

		claimed := false
		for _, id := range ids {
			job, err := p.store.ClaimJob(ctx, id, workerID, time.Now().UTC())
			if errors.Is(err, queue.ErrAlreadyClaimed) {
				// Lost the race for this candidate; try the next one.
				claimConflicts.Inc()
				continue
			}
			if err != nil {
				slog.Error("claim job", "worker_id", workerID, "job_id", id, "error", err)
				continue
			}
			claimed = true
			jobsClaimed.Inc()
			p.execute(ctx, workerID, job)
		}
		if !claimed {
			return
		}
	}
}

// execute runs the handler for one claimed job and records the outcome.
// Handler panics are recovered into failures; nothing a handler does may
// crash the loop.
func (p *Pool) execute(ctx context.Context, workerID string, job *queue.Job) {
	slog.Info("executing job",
		"worker_id", workerID, "job_id", job.ID,
		"job_type", job.JobType, "attempt", job.AttemptCount)

	h := p.registry.Lookup(job.JobType)
	var err error
	if h == nil {
		// Shouldn't happen when API and worker share a registry, but a
		// worker fleet can lag a deploy that introduced a new type.
		err = fmt.Errorf("no handler registered for job type %q", job.JobType)
	} else {
		err = p.runHandler(ctx, h, *job)
	}

	p.report(ctx, workerID, job, err)
}

// runHandler invokes h with panic recovery.
func (p *Pool) runHandler(ctx context.Context, h queue.Handler, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// report writes the terminal or retry transition for an executed job.
// An ownership failure means the reaper reclaimed the lease mid-run; the row
// already belongs to someone else, so it is logged and nothing more.
func (p *Pool) report(ctx context.Context, workerID string, job *queue.Job, execErr error) {
	var err error
	switch {
	case execErr == nil:
		err = p.store.CompleteJob(ctx, job.ID, workerID)
		if err == nil {
			jobsCompleted.Inc()
			slog.Info("job completed", "worker_id", workerID, "job_id", job.ID)
		}

	case errors.Is(execErr, queue.ErrCancelled):
		err = p.store.CancelRunningJob(ctx, job.ID, workerID)
		if err == nil {
			jobsCancelled.Inc()
			slog.Info("job cancelled", "worker_id", workerID, "job_id", job.ID)
		}

	case job.AttemptsExhausted():
		err = p.store.FailJob(ctx, job.ID, workerID, execErr.Error())
		if err == nil {
			jobsFailed.Inc()
			slog.Error("job failed permanently",
				"worker_id", workerID, "job_id", job.ID,
				"attempts", job.AttemptCount, "error", execErr)
		}

	default:
		runAt := time.Now().UTC().Add(p.cfg.Backoff.Delay(int(job.AttemptCount)))
		err = p.store.RetryJob(ctx, job.ID, workerID, runAt, execErr.Error())
		if err == nil {
			jobsRetried.Inc()
			slog.Warn("job failed, retry scheduled",
				"worker_id", workerID, "job_id", job.ID,
				"attempt", job.AttemptCount, "run_at", runAt, "error", execErr)
		}
	}

	if errors.Is(err, queue.ErrOwnership) {
		slog.Warn("lease lost before outcome recorded — job reclaimed by reaper",
			"worker_id", workerID, "job_id", job.ID)
		return
	}
	if err != nil {
		slog.Error("record job outcome", "worker_id", workerID, "job_id", job.ID, "error", err)
	}
}

// runReaper periodically returns stale running rows to circulation.
func (p *Pool) runReaper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	slog.Info("reaper started",
		"pool_id", p.poolID, "lease", p.cfg.LeaseDuration, "interval", p.cfg.ReapInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopping", "pool_id", p.poolID)
			return
		case <-ticker.C:
			n, err := p.store.ReapStale(ctx, p.cfg.LeaseDuration, time.Now().UTC())
			if err != nil {
				slog.Error("reap stale jobs", "error", err)
				continue
			}
			if n > 0 {
				jobsReaped.Add(float64(n))
				slog.Info("reclaimed stale jobs", "count", n)
			}
		}
	}
}
