// Package queue defines the job domain model: the Job record, its status
// state machine, the handler registry, the retry backoff policy, and the
// error taxonomy shared by the store, the worker pool, and the HTTP API.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
//
// scheduled → pending → running → {completed | failed | cancelled}, with
// running → pending (reaper) and running → scheduled (retry backoff) as the
// only reverse edges.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state. Terminal rows are immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Claimable reports whether a job in state s is eligible for the claim CAS.
func (s Status) Claimable() bool {
	return s == StatusScheduled || s == StatusPending
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusPending, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions encodes the allowed state machine edges. The store enforces
// these with conditional writes; this table exists so the domain rules are
// testable without a database.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusPending, StatusRunning, StatusCancelled},
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusPending, StatusScheduled},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Job is one unit of deferred work. All fields except ID, JobType, Payload,
// and CreatedAt are mutated exclusively by the claim protocol and retry
// policy in the store.
type Job struct {
	ID      uuid.UUID       `json:"id"`
	JobType string          `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
	Status  Status          `json:"status"`

	// ScheduledRunAt, when set, gates eligibility: the job is never claimed
	// while now < ScheduledRunAt. Nil means eligible as soon as pending.
	ScheduledRunAt *time.Time `json:"scheduled_run_at,omitempty"`

	AttemptCount int32 `json:"attempt_count"`
	MaxAttempts  int32 `json:"max_attempts"`

	// ClaimedBy/ClaimedAt identify the worker that owns the row while
	// running; cleared on every terminal or retry transition.
	ClaimedBy *string    `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// CancelRequested is the out-of-band cancellation flag for running jobs.
	// Handlers observe it cooperatively; the queue cannot interrupt them.
	CancelRequested bool `json:"cancel_requested"`

	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttemptsExhausted reports whether the job has consumed its attempt budget.
func (j *Job) AttemptsExhausted() bool {
	return j.AttemptCount >= j.MaxAttempts
}
