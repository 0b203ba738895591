// ABOUTME: Store methods for the jobs table: insert, ready-poll, claim CAS,
// ABOUTME: outcome reporting (complete/retry/fail/cancel), and the stale-lease reaper.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/queue"
)

// jobColumns is the canonical column list; every row-returning query selects
// exactly these, in this order, so scanJob applies everywhere.
const jobColumns = `id, job_type, payload, status, scheduled_run_at,
	attempt_count, max_attempts, claimed_by, claimed_at, cancel_requested,
	last_error, created_at, updated_at`

// scanJob scans one row in jobColumns order.
func scanJob(row pgx.Row) (*queue.Job, error) {
	var j queue.Job
	err := row.Scan(
		&j.ID,
		&j.JobType,
		&j.Payload,
		&j.Status,
		&j.ScheduledRunAt,
		&j.AttemptCount,
		&j.MaxAttempts,
		&j.ClaimedBy,
		&j.ClaimedAt,
		&j.CancelRequested,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertJobParams holds the producer-supplied fields for a new job.
// Validation (registered job_type, past-timestamp policy) happens before the
// store is reached; Insert only persists.
type InsertJobParams struct {
	JobType        string
	Payload        json.RawMessage
	ScheduledRunAt *time.Time // nil = eligible as soon as pending
	MaxAttempts    int32
}

// InsertJob creates a new job row. Status is derived from ScheduledRunAt:
// a future timestamp yields 'scheduled', otherwise 'pending'.
func (s *Store) InsertJob(ctx context.Context, p InsertJobParams, now time.Time) (*queue.Job, error) {
	status := queue.StatusPending
	if p.ScheduledRunAt != nil && p.ScheduledRunAt.After(now) {
		status = queue.StatusScheduled
	}
	payload := p.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_type, payload, status, scheduled_run_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		p.JobType, payload, status, p.ScheduledRunAt, p.MaxAttempts)

	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// GetJob returns the current snapshot of a job, or queue.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ListReady returns the ids of jobs eligible for claiming at instant now,
// ordered by scheduled_run_at ascending NULLS FIRST (unscheduled work is
// preferred once both are eligible) then created_at ascending (FIFO).
//
// The result is a point-in-time snapshot, not a reservation: any returned id
// may be claimed by another worker before the caller gets to it. Callers
// re-validate through ClaimJob.
func (s *Store) ListReady(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM jobs
		WHERE status IN ('scheduled','pending')
		  AND (scheduled_run_at IS NULL OR scheduled_run_at <= $1)
		ORDER BY scheduled_run_at ASC NULLS FIRST, created_at ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list ready scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimJob performs the claim CAS: a single conditional UPDATE that moves the
// row from scheduled/pending to running, stamps ownership, and increments
// attempt_count. The status and scheduled_run_at guards in the WHERE clause
// are the sole mechanism preventing double execution — there is no separate
// read, so two workers racing on the same id resolve at the database.
//
// Returns queue.ErrAlreadyClaimed when no row matches (taken by another
// worker, not yet due, or already terminal). That outcome is expected under
// concurrent polling; callers move silently to the next candidate.
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (*queue.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running',
		    claimed_by = $2,
		    claimed_at = $3,
		    attempt_count = attempt_count + 1,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled','pending')
		  AND (scheduled_run_at IS NULL OR scheduled_run_at <= $3)
		RETURNING `+jobColumns,
		id, workerID, now)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	return j, nil
}

// CompleteJob transitions running → completed and clears the claim fields.
// The claimed_by guard rejects a worker whose lease was reaped; in that case
// the returned error is queue.ErrOwnership and no fields change.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'running' AND claimed_by = $2`,
		id, workerID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipFailure(ctx, id)
	}
	return nil
}

// RetryJob transitions running → scheduled with a new scheduled_run_at
// computed by the backoff policy, recording the failure detail. Same
// ownership guard as CompleteJob.
func (s *Store) RetryJob(ctx context.Context, id uuid.UUID, workerID string, runAt time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'scheduled',
		    scheduled_run_at = $3,
		    last_error = $4,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'running' AND claimed_by = $2`,
		id, workerID, runAt, lastError)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipFailure(ctx, id)
	}
	return nil
}

// FailJob transitions running → failed permanently with last_error set.
// Terminal thereafter; only external inspection touches the row again.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, workerID string, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $3,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'running' AND claimed_by = $2`,
		id, workerID, lastError)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipFailure(ctx, id)
	}
	return nil
}

// CancelRunningJob transitions running → cancelled after a handler observed
// the cancel_requested flag and stopped cooperatively.
func (s *Store) CancelRunningJob(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'running' AND claimed_by = $2`,
		id, workerID)
	if err != nil {
		return fmt.Errorf("cancel running job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipFailure(ctx, id)
	}
	return nil
}

// CancelJob cancels a job. scheduled/pending rows go straight to cancelled;
// running rows only get cancel_requested set (the queue cannot interrupt an
// in-flight handler — it checks the flag cooperatively). The bool result is
// true when the job was only marked, false when it was cancelled directly.
// Terminal rows return queue.ErrConflict.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (requested bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('scheduled','pending')`,
		id)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}

	tag, err = s.pool.Exec(ctx, `
		UPDATE jobs
		SET cancel_requested = true, updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		id)
	if err != nil {
		return false, fmt.Errorf("request cancel for job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	exists, err := s.jobExists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, queue.ErrNotFound
	}
	return false, queue.ErrConflict
}

// CancelRequested reports whether a running job has been asked to stop.
// Handlers poll this between units of work for cooperative cancellation.
func (s *Store) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, queue.ErrNotFound
		}
		return false, fmt.Errorf("cancel requested %s: %w", id, err)
	}
	return requested, nil
}

// ReapStale reclaims running rows whose lease expired (claimed_at older than
// now minus lease): rows with attempts remaining go back to pending for
// another worker; rows that already consumed their attempt budget are failed
// permanently. attempt_count is not decremented, so the crashed attempt
// counts and reclaiming cannot loop forever. Returns the number of rows
// touched.
func (s *Store) ReapStale(ctx context.Context, lease time.Duration, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = CASE WHEN attempt_count >= max_attempts
		                  THEN 'failed' ELSE 'pending' END,
		    last_error = CASE WHEN attempt_count >= max_attempts
		                      THEN 'lease expired: worker did not report an outcome'
		                      ELSE last_error END,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = now()
		WHERE status = 'running' AND claimed_at < $1`,
		now.Add(-lease))
	if err != nil {
		return 0, fmt.Errorf("reap stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListJobs returns jobs filtered by status ("" = all), newest first.
func (s *Store) ListJobs(ctx context.Context, status queue.Status, limit int) ([]queue.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs scan: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountByStatus returns the number of jobs per status. Statuses with no rows
// are absent from the map.
func (s *Store) CountByStatus(ctx context.Context) (map[queue.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int64)
	for rows.Next() {
		var st queue.Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count scan: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ownershipFailure disambiguates a zero-row conditional update: the row is
// either gone entirely (ErrNotFound) or no longer owned by the caller
// (ErrOwnership — reaped, already reported, or never claimed by this worker).
func (s *Store) ownershipFailure(ctx context.Context, id uuid.UUID) error {
	exists, err := s.jobExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return queue.ErrNotFound
	}
	return queue.ErrOwnership
}

func (s *Store) jobExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("job exists %s: %w", id, err)
	}
	return exists, nil
}
