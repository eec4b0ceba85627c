package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

const mib = 1 << 20

func TestTokenBucketSequence(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(10*mib, 10*mib)

	if !b.TryConsume(1 * mib) {
		t.Fatalf("1 MiB rejected")
	}
	if !b.TryConsume(8 * mib) {
		t.Fatalf("8 MiB rejected")
	}
	if b.TryConsume(2 * mib) {
		t.Fatalf("2 MiB accepted with 1 MiB left")
	}

	b.Refill(0.5) // +5 MiB
	if !b.TryConsume(2 * mib) {
		t.Fatalf("2 MiB rejected after refill")
	}
}

func TestTryConsume_FailureHasNoSideEffect(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(100, 100)
	if b.TryConsume(101) {
		t.Fatalf("over-budget accepted")
	}
	if got := b.Tokens(); got != 100 {
		t.Fatalf("tokens=%d", got)
	}
}

func TestRefill_CapsAtCapacity(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(100, 1000)
	b.Refill(60)
	if got := b.Tokens(); got != 100 {
		t.Fatalf("tokens=%d", got)
	}
	b.Refill(-1) // ignored
	if got := b.Tokens(); got != 100 {
		t.Fatalf("tokens=%d", got)
	}
}

func TestRun_RefillsOnTick(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(1000, 100)
	if !b.TryConsume(1000) {
		t.Fatalf("drain failed")
	}

	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, mock, 100*time.Millisecond)
	}()

	// The ticker registers on the mock clock asynchronously; keep
	// advancing until a refill lands. At 100 B/s each 100 ms tick puts
	// 10 tokens back, capped at capacity.
	for i := 0; i < 500 && b.Tokens() == 0; i++ {
		mock.Add(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	if got := b.Tokens(); got == 0 || got > 1000 {
		t.Fatalf("tokens=%d", got)
	}

	cancel()
	wg.Wait()
}

func TestTryConsume_Concurrent(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(1000, 0)
	var wg sync.WaitGroup
	granted := make(chan struct{}, 2000)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if b.TryConsume(1) {
					granted <- struct{}{}
				}
			}
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for range granted {
		n++
	}
	if n != 1000 {
		t.Fatalf("granted=%d", n)
	}
}
