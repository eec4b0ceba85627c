package direct

import (
	"context"
	"testing"
	"time"
)

func TestPunchAndSend(t *testing.T) {
	t.Parallel()

	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()

	b, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rtt, err := a.Punch(ctx, b.LocalAddr(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Punch: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt=%v", rtt)
	}

	if err := a.Send([]byte("hello"), 3); err != nil {
		t.Fatalf("Send: %v", err)
	}
	p, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(p.Data) != "hello" || p.Channel != 3 {
		t.Fatalf("p=%+v", p)
	}

	// The punch pinned the prober on the responder side too.
	if err := b.Send([]byte("world"), 1); err != nil {
		t.Fatalf("Send back: %v", err)
	}
	p, err = a.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive back: %v", err)
	}
	if string(p.Data) != "world" || p.Channel != 1 {
		t.Fatalf("p=%+v", p)
	}
}

func TestPunch_TimesOut(t *testing.T) {
	t.Parallel()

	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	// 192.0.2.0/24 is TEST-NET; nothing answers.
	if _, err := a.Punch(ctx, "192.0.2.1:9", 50*time.Millisecond); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestSend_RequiresPeer(t *testing.T) {
	t.Parallel()

	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()

	if err := a.Send([]byte("x"), 0); err == nil {
		t.Fatalf("expected error without peer")
	}
}

func TestClose_FailsInFlightReceive(t *testing.T) {
	t.Parallel()

	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = a.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("receive succeeded after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not return")
	}
}
