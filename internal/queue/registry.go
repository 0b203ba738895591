package queue

import (
	"context"
	"sort"
	"sync"
)

// Handler executes one claimed job. A nil return marks the job completed.
// A non-nil return routes through the retry policy (backoff up to
// MaxAttempts, then permanently failed), except ErrCancelled which marks the
// job cancelled. Handlers must tolerate re-execution: the reaper may hand a
// job to another worker if this one crashes mid-run.
type Handler func(ctx context.Context, job Job) error

// Registry maps job_type discriminators to handlers. Submissions naming an
// unregistered type are rejected up front, so the table only ever holds
// executable work.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates h with jobType, replacing any previous handler.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler for jobType, or nil if none is registered.
func (r *Registry) Lookup(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Known reports whether jobType has a registered handler.
func (r *Registry) Known(jobType string) bool {
	return r.Lookup(jobType) != nil
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
