// ABOUTME: Producer and status endpoints for the job queue.
// ABOUTME: Submission validates job_type against the registry and applies the past-timestamp policy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/config"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/queue"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/store"
)

// registerJobRoutes wires up the queue endpoints on the huma API.
//
//	POST   /jobs           — submit a job
//	GET    /jobs           — list jobs, optionally by status
//	GET    /jobs/{job_id}  — job status snapshot
//	DELETE /jobs/{job_id}  — cancel (direct for scheduled/pending, flag for running)
//	GET    /stats          — job counts by status
func registerJobRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a job",
		Description:   "Enqueues a job for execution, optionally deferred until scheduled_run_at.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, srv.submitJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Lists jobs newest first, optionally filtered by status.",
		Tags:        []string{"Jobs"},
	}, srv.listJobsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job status",
		Tags:        []string{"Jobs"},
	}, srv.getJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{job_id}",
		Summary:     "Cancel a job",
		Description: "Cancels a scheduled or pending job directly; a running job is flagged for cooperative cancellation.",
		Tags:        []string{"Jobs"},
	}, srv.cancelJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "queue-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Queue statistics",
		Tags:        []string{"Jobs"},
	}, srv.statsHandler)
}

// ── Response types ────────────────────────────────────────────────────────────

// JobResponse is the API representation of a job row.
type JobResponse struct {
	ID              uuid.UUID       `json:"id"`
	JobType         string          `json:"job_type"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	ScheduledRunAt  *string         `json:"scheduled_run_at,omitempty"` // RFC3339
	AttemptCount    int32           `json:"attempt_count"`
	MaxAttempts     int32           `json:"max_attempts"`
	ClaimedBy       *string         `json:"claimed_by,omitempty"`
	ClaimedAt       *string         `json:"claimed_at,omitempty"` // RFC3339
	CancelRequested bool            `json:"cancel_requested"`
	LastError       *string         `json:"last_error,omitempty"`
	CreatedAt       string          `json:"created_at"` // RFC3339
	UpdatedAt       string          `json:"updated_at"` // RFC3339
}

func jobToResponse(j *queue.Job) JobResponse {
	resp := JobResponse{
		ID:              j.ID,
		JobType:         j.JobType,
		Payload:         j.Payload,
		Status:          string(j.Status),
		AttemptCount:    j.AttemptCount,
		MaxAttempts:     j.MaxAttempts,
		ClaimedBy:       j.ClaimedBy,
		CancelRequested: j.CancelRequested,
		LastError:       j.LastError,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.ScheduledRunAt != nil {
		s := j.ScheduledRunAt.UTC().Format(time.RFC3339)
		resp.ScheduledRunAt = &s
	}
	if j.ClaimedAt != nil {
		s := j.ClaimedAt.UTC().Format(time.RFC3339)
		resp.ClaimedAt = &s
	}
	return resp
}

// ── POST /jobs ────────────────────────────────────────────────────────────────

// SubmitJobInput is the submission request.
type SubmitJobInput struct {
	Body struct {
		JobType        string          `json:"job_type" minLength:"1" doc:"Handler discriminator; must be a registered type"`
		Payload        json.RawMessage `json:"payload,omitempty" doc:"Opaque handler-specific JSON payload"`
		ScheduledRunAt *string         `json:"scheduled_run_at,omitempty" doc:"RFC3339 UTC; omit for immediate eligibility"`
		MaxAttempts    *int32          `json:"max_attempts,omitempty" minimum:"1" maximum:"50" doc:"Attempt budget; server default when omitted"`
	}
}

// SubmitJobOutput is the submission response.
type SubmitJobOutput struct {
	Body JobResponse
}

func (srv *Server) submitJobHandler(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
	now := time.Now().UTC()

	p, err := srv.validateSubmission(input, now)
	if err != nil {
		var ve *queue.ValidationError
		if errors.As(err, &ve) {
			return nil, huma.Error422UnprocessableEntity(ve.Error())
		}
		return nil, err
	}

	job, err := srv.store.InsertJob(ctx, *p, now)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return &SubmitJobOutput{Body: jobToResponse(job)}, nil
}

// validateSubmission applies the producer contract: the job type must be
// registered and a past scheduled_run_at is handled per SUBMIT_PAST_POLICY.
func (srv *Server) validateSubmission(input *SubmitJobInput, now time.Time) (*store.InsertJobParams, error) {
	if !srv.registry.Known(input.Body.JobType) {
		return nil, &queue.ValidationError{
			Field:  "job_type",
			Reason: fmt.Sprintf("unknown job type %q", input.Body.JobType),
		}
	}

	if len(input.Body.Payload) > 0 && !json.Valid(input.Body.Payload) {
		return nil, &queue.ValidationError{Field: "payload", Reason: "not valid JSON"}
	}

	p := store.InsertJobParams{
		JobType:     input.Body.JobType,
		Payload:     input.Body.Payload,
		MaxAttempts: srv.cfg.DefaultMaxAttempts,
	}
	if input.Body.MaxAttempts != nil {
		p.MaxAttempts = *input.Body.MaxAttempts
	}

	if input.Body.ScheduledRunAt != nil {
		t, err := time.Parse(time.RFC3339, *input.Body.ScheduledRunAt)
		if err != nil {
			return nil, &queue.ValidationError{
				Field:  "scheduled_run_at",
				Reason: "must be RFC3339 (e.g. 2026-01-02T15:04:05Z)",
			}
		}
		t = t.UTC()
		if t.Before(now.Add(-srv.cfg.SubmitSkewTolerance)) {
			switch srv.cfg.SubmitPastPolicy {
			case config.PastPolicyImmediate:
				// Past timestamps mean "run now": keep the value for the
				// audit trail; the job inserts as pending and is eligible
				// immediately.
			default:
				return nil, &queue.ValidationError{
					Field:  "scheduled_run_at",
					Reason: fmt.Sprintf("is in the past by more than %s", srv.cfg.SubmitSkewTolerance),
				}
			}
		}
		p.ScheduledRunAt = &t
	}

	return &p, nil
}

// ── GET /jobs ─────────────────────────────────────────────────────────────────

// ListJobsInput defines query parameters for the job listing.
type ListJobsInput struct {
	Status string `query:"status" enum:"scheduled,pending,running,completed,failed,cancelled" required:"false" doc:"Filter by status"`
	Limit  int    `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Page size (max 200)"`
}

// ListJobsOutput is the response body for GET /jobs.
type ListJobsOutput struct {
	Body struct {
		Items []JobResponse `json:"items"`
	}
}

func (srv *Server) listJobsHandler(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := srv.store.ListJobs(ctx, queue.Status(input.Status), input.Limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := &ListJobsOutput{}
	out.Body.Items = make([]JobResponse, 0, len(jobs)) // never return null for arrays in JSON
	for i := range jobs {
		out.Body.Items = append(out.Body.Items, jobToResponse(&jobs[i]))
	}
	return out, nil
}

// ── GET /jobs/{job_id} ────────────────────────────────────────────────────────

// GetJobInput identifies the job to fetch.
type GetJobInput struct {
	JobID uuid.UUID `path:"job_id" doc:"Job identity"`
}

// GetJobOutput is the response body for GET /jobs/{job_id}.
type GetJobOutput struct {
	Body JobResponse
}

func (srv *Server) getJobHandler(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := srv.store.GetJob(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &GetJobOutput{Body: jobToResponse(job)}, nil
}

// ── DELETE /jobs/{job_id} ─────────────────────────────────────────────────────

// CancelJobInput identifies the job to cancel.
type CancelJobInput struct {
	JobID uuid.UUID `path:"job_id" doc:"Job identity"`
}

// CancelJobOutput reports the cancellation result: "cancelled" when the row
// went terminal directly, "cancel_requested" when a running job was flagged.
type CancelJobOutput struct {
	Body struct {
		Result string `json:"result" enum:"cancelled,cancel_requested"`
	}
}

func (srv *Server) cancelJobHandler(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	requested, err := srv.store.CancelJob(ctx, input.JobID)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			return nil, huma.Error404NotFound("job not found")
		case errors.Is(err, queue.ErrConflict):
			return nil, huma.Error409Conflict("job already finished")
		}
		return nil, fmt.Errorf("cancel job: %w", err)
	}

	out := &CancelJobOutput{}
	out.Body.Result = "cancelled"
	if requested {
		out.Body.Result = "cancel_requested"
	}
	return out, nil
}

// ── GET /stats ────────────────────────────────────────────────────────────────

// StatsOutput is the response body for GET /stats.
type StatsOutput struct {
	Body struct {
		Counts   map[string]int64 `json:"counts" doc:"Job counts keyed by status"`
		JobTypes []string         `json:"job_types" doc:"Registered job types"`
	}
}

func (srv *Server) statsHandler(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	counts, err := srv.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	out := &StatsOutput{}
	out.Body.Counts = make(map[string]int64, len(counts))
	for st, n := range counts {
		out.Body.Counts[string(st)] = n
	}
	out.Body.JobTypes = srv.registry.Types()
	return out, nil
}
