package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes the delay before a retry attempt: exponential in the
// attempt number with multiplicative jitter, capped at Max. Stateless and
// safe for concurrent use.
type BackoffPolicy struct {
	Base time.Duration // delay scale for the first retry
	Max  time.Duration // upper bound on any single delay
}

// Delay returns the backoff before retry attempt n (1-indexed; attempt 1 is
// the first retry after the initial failure). The jitter factor is drawn
// from [0.5, 1.5) so concurrent retries of a burst of failures spread out
// instead of thundering back together.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if capped := float64(p.Max); p.Max > 0 && d > capped {
		d = capped
	}
	jitter := 0.5 + rand.Float64() //nolint:gosec // G404: backoff jitter is not security-sensitive
	d *= jitter
	if capped := float64(p.Max); p.Max > 0 && d > capped {
		d = capped
	}
	return time.Duration(d)
}
