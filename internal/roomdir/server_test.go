package roomdir

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"ldnlink/internal/api"
	"ldnlink/internal/ldnerr"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func register(t *testing.T, c *api.Client, pass []byte) api.RegisterResponse {
	t.Helper()
	resp, err := c.Register(context.Background(), api.RegisterRequest{
		Record: api.SessionRecord{
			AppID:        0x42,
			Name:         "net",
			Channel:      6,
			NodeCount:    1,
			NodeCountMax: 2,
			HostEndpoint: "10.0.0.1:5000",
		},
		Passphrase: pass,
		Version:    4,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return resp
}

func TestRegisterScanJoin(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{})
	c := api.NewClient(ts.URL, "", time.Second)

	resp := register(t, c, nil)
	if resp.Handle == "" || resp.RelayToken == 0 || resp.RelayURL == "" {
		t.Fatalf("resp=%+v", resp)
	}

	scan, err := c.Scan(context.Background(), 0x42, "", 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scan.Sessions) != 1 || scan.Sessions[0].Handle != resp.Handle {
		t.Fatalf("scan=%+v", scan.Sessions)
	}

	if other, err := c.Scan(context.Background(), 0x43, "", 0); err != nil || len(other.Sessions) != 0 {
		t.Fatalf("filter leak: %+v err=%v", other.Sessions, err)
	}

	join, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 4, NodeName: "p2"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if join.SlotIndex != 1 || join.RelayToken != resp.RelayToken {
		t.Fatalf("join=%+v", join)
	}

	// Session is now full (max 2).
	if _, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 4}); err == nil {
		t.Fatalf("join into full session accepted")
	}
}

func TestLeaveFreesSlot(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{})
	c := api.NewClient(ts.URL, "", time.Second)

	resp := register(t, c, nil) // max 2
	join, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 4, NodeName: "p2"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if join.MemberHandle == "" {
		t.Fatalf("join=%+v", join)
	}
	if _, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 4}); err == nil {
		t.Fatalf("join into full session accepted")
	}

	if err := c.Leave(context.Background(), resp.Handle, join.MemberHandle); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	ka, err := c.Keepalive(context.Background(), api.KeepaliveRequest{Handle: resp.Handle})
	if err != nil || ka.NodeCount != 1 {
		t.Fatalf("keepalive=%+v err=%v", ka, err)
	}

	again, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 4, NodeName: "p3"})
	if err != nil {
		t.Fatalf("rejoin after leave: %v", err)
	}
	if again.SlotIndex != 1 || again.MemberHandle == join.MemberHandle {
		t.Fatalf("again=%+v", again)
	}

	// Leaving twice is harmless.
	if err := c.Leave(context.Background(), resp.Handle, join.MemberHandle); err != nil {
		t.Fatalf("repeat leave: %v", err)
	}
}

func TestJoin_RejectsBadPassphrase(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{})
	c := api.NewClient(ts.URL, "", time.Second)

	resp := register(t, c, []byte("pw"))
	_, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Passphrase: []byte("wrong"), Version: 4})
	if ldnerr.KindOf(err) != ldnerr.KindUnauthenticated {
		t.Fatalf("err=%v kind=%v", err, ldnerr.KindOf(err))
	}

	if _, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Passphrase: []byte("pw"), Version: 4}); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestJoin_RejectsVersionMismatch(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{})
	c := api.NewClient(ts.URL, "", time.Second)

	resp := register(t, c, nil)
	_, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 9})
	if ldnerr.KindOf(err) != ldnerr.KindVersionMismatch {
		t.Fatalf("err=%v kind=%v", err, ldnerr.KindOf(err))
	}
}

func TestAuthToken(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{AuthToken: "secret"})

	bad := api.NewClient(ts.URL, "nope", time.Second)
	_, err := bad.Scan(context.Background(), 0, "", 0)
	if ldnerr.KindOf(err) != ldnerr.KindUnauthenticated {
		t.Fatalf("err=%v", err)
	}

	good := api.NewClient(ts.URL, "secret", time.Second)
	if _, err := good.Scan(context.Background(), 0, "", 0); err != nil {
		t.Fatalf("Scan: %v", err)
	}
}

func TestKeepaliveAndExpiry(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{SessionTTL: 50 * time.Millisecond})
	c := api.NewClient(ts.URL, "", time.Second)

	resp := register(t, c, nil)
	ka, err := c.Keepalive(context.Background(), api.KeepaliveRequest{Handle: resp.Handle, AdvertiseData: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Keepalive: %v", err)
	}
	if ka.NodeCount != 1 {
		t.Fatalf("node_count=%d", ka.NodeCount)
	}

	scan, err := c.Scan(context.Background(), 0, "", 0)
	if err != nil || len(scan.Sessions) != 1 {
		t.Fatalf("scan=%+v err=%v", scan.Sessions, err)
	}
	if len(scan.Sessions[0].AdvertiseData) != 2 {
		t.Fatalf("advertise=%v", scan.Sessions[0].AdvertiseData)
	}

	time.Sleep(100 * time.Millisecond)
	scan, err = c.Scan(context.Background(), 0, "", 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scan.Sessions) != 0 {
		t.Fatalf("stale session survived: %+v", scan.Sessions)
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, Config{})
	c := api.NewClient(ts.URL, "", time.Second)

	resp := register(t, c, nil)
	if err := c.Unregister(context.Background(), resp.Handle); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	_, err := c.Join(context.Background(), api.JoinRequest{Handle: resp.Handle, Version: 4})
	if err == nil {
		t.Fatalf("join after unregister accepted")
	}
	var le *ldnerr.Error
	if !errors.As(err, &le) {
		t.Fatalf("unclassified error: %v", err)
	}
}
