package stunutil

import (
	"context"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	if got := Classify([]string{"1.2.3.4:1"}); got != NATUnknown {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:1"}); got != NATCone {
		t.Fatalf("got=%q", got)
	}
	if got := Classify([]string{"1.2.3.4:1", "1.2.3.4:2"}); got != NATSymmetric {
		t.Fatalf("got=%q", got)
	}
}

func TestDiscover_NoServers(t *testing.T) {
	t.Parallel()

	res, err := Prober{}.Discover(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.NATType != NATUnknown {
		t.Fatalf("nat=%q", res.NATType)
	}
}
