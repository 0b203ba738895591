// ABOUTME: Integration tests for store/jobs.go — claim CAS, ready-poll ordering,
// ABOUTME: retry accounting, reaper, and cancellation. Uses testutil.NewTestDB.
package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/queue"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/store"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/testutil"
)

// mustInsert inserts a job or fatals. runAt may be nil for immediate eligibility.
func mustInsert(t *testing.T, s *store.Store, ctx context.Context, jobType string, runAt *time.Time, maxAttempts int32) *queue.Job {
	t.Helper()
	j, err := s.InsertJob(ctx, store.InsertJobParams{
		JobType:        jobType,
		Payload:        json.RawMessage(`{"k":"v"}`),
		ScheduledRunAt: runAt,
		MaxAttempts:    maxAttempts,
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	return j
}

// mustClaim claims a job or fatals.
func mustClaim(t *testing.T, s *store.Store, ctx context.Context, id uuid.UUID, workerID string) *queue.Job {
	t.Helper()
	j, err := s.ClaimJob(ctx, id, workerID, time.Now().UTC())
	if err != nil {
		t.Fatalf("ClaimJob(%s): %v", id, err)
	}
	return j
}

func TestInsertJobDerivesStatus(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	immediate := mustInsert(t, s, ctx, "noop", nil, 3)
	if immediate.Status != queue.StatusPending {
		t.Errorf("unscheduled job status = %s, want pending", immediate.Status)
	}
	if immediate.AttemptCount != 0 {
		t.Errorf("new job attempt_count = %d, want 0", immediate.AttemptCount)
	}

	future := time.Now().UTC().Add(time.Hour)
	deferred := mustInsert(t, s, ctx, "noop", &future, 3)
	if deferred.Status != queue.StatusScheduled {
		t.Errorf("future job status = %s, want scheduled", deferred.Status)
	}

	past := time.Now().UTC().Add(-time.Hour)
	backdated := mustInsert(t, s, ctx, "noop", &past, 3)
	if backdated.Status != queue.StatusPending {
		t.Errorf("past-timestamp job status = %s, want pending", backdated.Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, uuid.New())
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("GetJob(unknown) = %v, want ErrNotFound", err)
	}
}

func TestListReadyHonorsScheduleAndOrder(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	runAt := now.Add(10 * time.Second)

	scheduled := mustInsert(t, s, ctx, "noop", &runAt, 3)
	unscheduled := mustInsert(t, s, ctx, "noop", nil, 3)

	// Before the schedule: only the unscheduled job is ready.
	ids, err := s.ListReady(ctx, 10, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ids) != 1 || ids[0] != unscheduled.ID {
		t.Fatalf("ListReady(+5s) = %v, want [%s]", ids, unscheduled.ID)
	}

	// Boundary: now == scheduled_run_at is eligible.
	ids, err = s.ListReady(ctx, 10, runAt)
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListReady(boundary) returned %d ids, want 2", len(ids))
	}
	// NULLS FIRST: the unscheduled job is preferred once both are eligible,
	// even though the scheduled job was inserted earlier.
	if ids[0] != unscheduled.ID || ids[1] != scheduled.ID {
		t.Errorf("ListReady order = %v, want [%s %s]", ids, unscheduled.ID, scheduled.ID)
	}
}

func TestListReadyFIFOWithinUnscheduled(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	first := mustInsert(t, s, ctx, "noop", nil, 3)
	second := mustInsert(t, s, ctx, "noop", nil, 3)

	ids, err := s.ListReady(ctx, 10, time.Now().UTC())
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Errorf("ListReady = %v, want FIFO [%s %s]", ids, first.ID, second.ID)
	}
}

func TestClaimJobSingleWinner(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	job := mustInsert(t, s, ctx, "noop", nil, 3)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []string
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerID := uuid.New().String()
			_, err := s.ClaimJob(ctx, job.ID, workerID, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, workerID)
			case errors.Is(err, queue.ErrAlreadyClaimed):
				conflicts++
			default:
				t.Errorf("ClaimJob: unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(successes) != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", len(successes))
	}
	if conflicts != workers-1 {
		t.Errorf("claim conflicts = %d, want %d", conflicts, workers-1)
	}

	// The row reflects the single winner, once.
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", got.AttemptCount)
	}
	if got.ClaimedBy == nil || *got.ClaimedBy != successes[0] {
		t.Errorf("claimed_by = %v, want %s", got.ClaimedBy, successes[0])
	}
	if got.ClaimedAt == nil {
		t.Error("claimed_at not set after claim")
	}
}

func TestClaimJobRespectsScheduledRunAt(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	runAt := time.Now().UTC().Add(time.Hour)
	job := mustInsert(t, s, ctx, "noop", &runAt, 3)

	// Even with the id in hand, the claim guard refuses early execution.
	_, err := s.ClaimJob(ctx, job.ID, "w1", time.Now().UTC())
	if !errors.Is(err, queue.ErrAlreadyClaimed) {
		t.Fatalf("early ClaimJob = %v, want ErrAlreadyClaimed", err)
	}

	// At the boundary instant the claim goes through.
	if _, err := s.ClaimJob(ctx, job.ID, "w1", runAt); err != nil {
		t.Fatalf("boundary ClaimJob: %v", err)
	}
}

func TestCompleteJobLifecycleAndOwnership(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	job := mustInsert(t, s, ctx, "noop", nil, 3)
	mustClaim(t, s, ctx, job.ID, "w1")

	// Wrong worker cannot complete.
	if err := s.CompleteJob(ctx, job.ID, "w2"); !errors.Is(err, queue.ErrOwnership) {
		t.Fatalf("CompleteJob(wrong worker) = %v, want ErrOwnership", err)
	}

	if err := s.CompleteJob(ctx, job.ID, "w1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.ClaimedBy != nil || got.ClaimedAt != nil {
		t.Error("claim fields not cleared on completion")
	}

	// Idempotence: the second complete is a no-op ownership error, since
	// claimed_by was cleared by the first.
	if err := s.CompleteJob(ctx, job.ID, "w1"); !errors.Is(err, queue.ErrOwnership) {
		t.Errorf("second CompleteJob = %v, want ErrOwnership", err)
	}

	// Unknown ids are reported as such.
	if err := s.CompleteJob(ctx, uuid.New(), "w1"); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("CompleteJob(unknown) = %v, want ErrNotFound", err)
	}
}

func TestRetryJobReschedulesAndClearsErrorOnReclaim(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	job := mustInsert(t, s, ctx, "noop", nil, 3)
	mustClaim(t, s, ctx, job.ID, "w1")

	// Retry with an already-elapsed run_at so it is immediately eligible again.
	runAt := time.Now().UTC().Add(-time.Second)
	if err := s.RetryJob(ctx, job.ID, "w1", runAt, "boom"); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusScheduled {
		t.Errorf("status = %s, want scheduled", got.Status)
	}
	if got.LastError == nil || *got.LastError != "boom" {
		t.Errorf("last_error = %v, want boom", got.LastError)
	}
	if got.ClaimedBy != nil {
		t.Error("claimed_by not cleared on retry")
	}

	// Re-claim: attempt_count advances and the stale error is cleared.
	reclaimed := mustClaim(t, s, ctx, job.ID, "w2")
	if reclaimed.AttemptCount != 2 {
		t.Errorf("attempt_count after reclaim = %d, want 2", reclaimed.AttemptCount)
	}
	if reclaimed.LastError != nil {
		t.Errorf("last_error after reclaim = %v, want nil", reclaimed.LastError)
	}
}

func TestFailJobPermanentAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	const maxAttempts = 3
	job := mustInsert(t, s, ctx, "noop", nil, maxAttempts)

	// Attempts 1 and 2 fail and are re-scheduled.
	for attempt := 1; attempt < maxAttempts; attempt++ {
		claimed := mustClaim(t, s, ctx, job.ID, "w1")
		if claimed.AttemptCount != int32(attempt) {
			t.Fatalf("attempt_count = %d, want %d", claimed.AttemptCount, attempt)
		}
		runAt := time.Now().UTC().Add(-time.Second)
		if err := s.RetryJob(ctx, job.ID, "w1", runAt, "transient failure"); err != nil {
			t.Fatalf("RetryJob: %v", err)
		}
	}

	// Attempt 3 exhausts the budget.
	claimed := mustClaim(t, s, ctx, job.ID, "w1")
	if claimed.AttemptCount != maxAttempts {
		t.Fatalf("attempt_count = %d, want %d", claimed.AttemptCount, maxAttempts)
	}
	if err := s.FailJob(ctx, job.ID, "w1", "final failure"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.AttemptCount != maxAttempts {
		t.Errorf("attempt_count = %d, want exactly %d", got.AttemptCount, maxAttempts)
	}
	if got.LastError == nil || *got.LastError != "final failure" {
		t.Errorf("last_error = %v, want final failure", got.LastError)
	}

	// Terminal: no longer claimable.
	if _, err := s.ClaimJob(ctx, job.ID, "w1", time.Now().UTC()); !errors.Is(err, queue.ErrAlreadyClaimed) {
		t.Errorf("ClaimJob(failed row) = %v, want ErrAlreadyClaimed", err)
	}
}

func TestReapStaleReturnsCrashedJobToPending(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	job := mustInsert(t, s, ctx, "noop", nil, 3)
	mustClaim(t, s, ctx, job.ID, "crashed-worker")

	// Lease not yet expired: nothing to reap.
	n, err := s.ReapStale(ctx, time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("ReapStale(fresh lease) = %d, want 0", n)
	}

	// Evaluate the same lease from a point past its expiry.
	n, err = s.ReapStale(ctx, time.Hour, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReapStale(expired lease) = %d, want 1", n)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	// The crashed attempt stays counted, so reclaiming cannot loop forever.
	if got.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", got.AttemptCount)
	}
	if got.ClaimedBy != nil || got.ClaimedAt != nil {
		t.Error("claim fields not cleared by reaper")
	}

	// The crashed worker reporting late gets an ownership error.
	if err := s.CompleteJob(ctx, job.ID, "crashed-worker"); !errors.Is(err, queue.ErrOwnership) {
		t.Errorf("late CompleteJob = %v, want ErrOwnership", err)
	}
}

func TestReapStaleFailsExhaustedJob(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	job := mustInsert(t, s, ctx, "noop", nil, 1)
	mustClaim(t, s, ctx, job.ID, "crashed-worker")

	n, err := s.ReapStale(ctx, time.Hour, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReapStale = %d, want 1", n)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	// attempt budget was 1 and the crashed claim consumed it.
	if got.Status != queue.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Error("last_error not set on reaper-failed job")
	}
}

func TestCancelJobMatrix(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	// pending → cancelled directly.
	pending := mustInsert(t, s, ctx, "noop", nil, 3)
	requested, err := s.CancelJob(ctx, pending.ID)
	if err != nil {
		t.Fatalf("CancelJob(pending): %v", err)
	}
	if requested {
		t.Error("pending cancel should be direct, not requested")
	}
	got, _ := s.GetJob(ctx, pending.ID)
	if got.Status != queue.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// running → flag only; the row stays running until the handler yields.
	running := mustInsert(t, s, ctx, "noop", nil, 3)
	mustClaim(t, s, ctx, running.ID, "w1")
	requested, err = s.CancelJob(ctx, running.ID)
	if err != nil {
		t.Fatalf("CancelJob(running): %v", err)
	}
	if !requested {
		t.Error("running cancel should be a request")
	}
	flagged, err := s.CancelRequested(ctx, running.ID)
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !flagged {
		t.Error("cancel_requested flag not set")
	}
	got, _ = s.GetJob(ctx, running.ID)
	if got.Status != queue.StatusRunning {
		t.Errorf("status = %s, want still running", got.Status)
	}

	// The cooperative handler then records the cancellation.
	if err := s.CancelRunningJob(ctx, running.ID, "w1"); err != nil {
		t.Fatalf("CancelRunningJob: %v", err)
	}
	got, _ = s.GetJob(ctx, running.ID)
	if got.Status != queue.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// terminal → conflict.
	if _, err := s.CancelJob(ctx, pending.ID); !errors.Is(err, queue.ErrConflict) {
		t.Errorf("CancelJob(terminal) = %v, want ErrConflict", err)
	}

	// unknown → not found.
	if _, err := s.CancelJob(ctx, uuid.New()); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("CancelJob(unknown) = %v, want ErrNotFound", err)
	}
}

func TestCountByStatusAndList(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	a := mustInsert(t, s, ctx, "noop", nil, 3)
	mustInsert(t, s, ctx, "noop", nil, 3)
	mustClaim(t, s, ctx, a.ID, "w1")
	if err := s.CompleteJob(ctx, a.ID, "w1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[queue.StatusPending] != 1 || counts[queue.StatusCompleted] != 1 {
		t.Errorf("counts = %v, want 1 pending and 1 completed", counts)
	}

	completed, err := s.ListJobs(ctx, queue.StatusCompleted, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != a.ID {
		t.Errorf("ListJobs(completed) = %d rows, want the completed job", len(completed))
	}

	all, err := s.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListJobs(all) = %d rows, want 2", len(all))
	}
}
