package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool outcome counters, exposed on /metrics.
var (
	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_claimed_total",
		Help: "Jobs successfully claimed by this process.",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_completed_total",
		Help: "Jobs that finished successfully.",
	})
	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_retried_total",
		Help: "Failed jobs re-scheduled with backoff.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_failed_total",
		Help: "Jobs failed permanently after exhausting attempts.",
	})
	jobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_cancelled_total",
		Help: "Running jobs cancelled cooperatively by their handler.",
	})
	jobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_reaped_total",
		Help: "Stale running jobs reclaimed by the reaper.",
	})
	claimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_claim_conflicts_total",
		Help: "Claim attempts lost to another worker (expected under concurrency).",
	})
)
