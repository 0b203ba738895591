package queue

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: 2 * time.Second, Max: time.Hour}

	// With jitter in [0.5, 1.5), attempt n is bounded by
	// [base*2^(n-1)*0.5, base*2^(n-1)*1.5).
	for attempt := 1; attempt <= 6; attempt++ {
		raw := time.Duration(float64(2*time.Second) * float64(int(1)<<(attempt-1)))
		lo := raw / 2
		hi := raw + raw/2
		for i := 0; i < 100; i++ {
			d := p.Delay(attempt)
			if d < lo || d >= hi {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffDelayCappedAtMax(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: time.Second, Max: 10 * time.Second}

	// Attempt 30 would be ~17 years uncapped.
	for i := 0; i < 100; i++ {
		if d := p.Delay(30); d > 10*time.Second {
			t.Fatalf("Delay(30) = %v, want <= 10s", d)
		}
	}
}

func TestBackoffDelayClampsBadAttempt(t *testing.T) {
	t.Parallel()

	p := BackoffPolicy{Base: time.Second, Max: time.Minute}
	if d := p.Delay(0); d <= 0 {
		t.Errorf("Delay(0) = %v, want > 0", d)
	}
	if d := p.Delay(-5); d <= 0 {
		t.Errorf("Delay(-5) = %v, want > 0", d)
	}
}
