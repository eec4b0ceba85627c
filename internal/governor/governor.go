// Package governor rate-limits outbound relay traffic with a token
// bucket. Tokens are bytes; refills happen on a steady cadence driven
// by an injectable clock, independent of send attempts.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket holds the governor state. The counter is shared between
// the send path and the refill path and is guarded by one mutex.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // bytes per second
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(capacityBytes, ratePerSec int64) *TokenBucket {
	return &TokenBucket{
		tokens:   float64(capacityBytes),
		capacity: float64(capacityBytes),
		rate:     float64(ratePerSec),
	}
}

// TryConsume spends n tokens if available. On failure it has no side
// effect; the caller reports a rate-limited error, it never blocks.
func (b *TokenBucket) TryConsume(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if float64(n) > b.tokens {
		return false
	}
	b.tokens -= float64(n)
	return true
}

// Refill adds rate*elapsed tokens, capped at capacity. Negative elapsed
// is ignored.
func (b *TokenBucket) Refill(elapsedSeconds float64) {
	if elapsedSeconds <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += b.rate * elapsedSeconds
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Tokens returns the current token count in bytes.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.tokens)
}

// Run refills the bucket on a fixed tick until ctx is done. The clock
// is injectable so tests can drive it deterministically.
func (b *TokenBucket) Run(ctx context.Context, clk clock.Clock, tick time.Duration) {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(tick)
	defer ticker.Stop()

	last := clk.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.Refill(now.Sub(last).Seconds())
			last = now
		}
	}
}
