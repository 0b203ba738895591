package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyClaimed is returned when the claim CAS matches no row: the
	// job was taken by another worker or reached a terminal state between
	// the ready-poll and the claim attempt. Expected under concurrent
	// polling — callers move to the next candidate, never alert on it.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrOwnership is returned when a worker reports an outcome for a job
	// it no longer owns (the reaper reclaimed its lease, or the outcome was
	// already recorded).
	ErrOwnership = errors.New("job not owned by this worker")

	// ErrConflict is returned when a requested transition is illegal for
	// the row's current status, e.g. cancelling a terminal job.
	ErrConflict = errors.New("job status conflict")

	// ErrCancelled is returned by handlers that observed a cancellation
	// request and stopped cooperatively. The worker records the job as
	// cancelled instead of failed.
	ErrCancelled = errors.New("job cancelled")
)

// ValidationError rejects a bad submission synchronously; nothing is enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
