// Package reconnect computes backoff delays and retry eligibility for
// broken sessions. It is pure arithmetic: it never sleeps or schedules
// itself, callers own the timing loop.
package reconnect

import (
	"math"
	"time"

	"ldnlink/internal/ldnerr"
)

// Policy is the reconnect configuration surface. The zero value of
// RetryableKinds falls back to the default classification in ldnerr.
type Policy struct {
	Enabled        bool
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	RetryableKinds map[ldnerr.Kind]bool
}

// NextDelay returns min(base * multiplier^attempt, max) for attempt 0..n.
func NextDelay(attempt int, base time.Duration, multiplier float64, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	d := float64(base) * math.Pow(multiplier, float64(attempt))
	if max > 0 && d > float64(max) {
		return max
	}
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another attempt is allowed. It is false
// once attempt reaches maxAttempts regardless of kind, and false for
// kinds classified non-retryable.
func ShouldRetry(kind ldnerr.Kind, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	return ldnerr.Retryable(kind)
}

// NextDelay applies the policy's knobs.
func (p Policy) NextDelay(attempt int) time.Duration {
	return NextDelay(attempt, p.BaseDelay, p.Multiplier, p.MaxDelay)
}

// ShouldRetry applies the policy, honoring per-kind overrides when
// configured.
func (p Policy) ShouldRetry(kind ldnerr.Kind, attempt int) bool {
	if !p.Enabled || attempt >= p.MaxAttempts {
		return false
	}
	if p.RetryableKinds != nil {
		if ok, set := p.RetryableKinds[kind]; set {
			return ok
		}
	}
	return ldnerr.Retryable(kind)
}
