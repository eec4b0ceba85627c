package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"ldnlink/internal/backend"
	"ldnlink/internal/ldnerr"
	"ldnlink/internal/model"
	"ldnlink/internal/reconnect"
)

// fakeBackend scripts per-operation failures and records calls.
type fakeBackend struct {
	calls      []string
	failOp     string
	failWith   error
	failCount  int
	scanOut    []model.ScanResult
	recvData   []byte
	recvCh     uint8
	lastReason model.DisconnectReason
}

func (f *fakeBackend) op(name string) error {
	f.calls = append(f.calls, name)
	if f.failOp == name && f.failCount != 0 {
		if f.failCount > 0 {
			f.failCount--
		}
		return f.failWith
	}
	return nil
}

func (f *fakeBackend) called(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBackend) GetState() model.ConnectionState        { return model.StateInitialized }
func (f *fakeBackend) OpenAccessPoint(context.Context) error  { return f.op("OpenAccessPoint") }
func (f *fakeBackend) CloseAccessPoint(context.Context) error { return f.op("CloseAccessPoint") }
func (f *fakeBackend) OpenStation(context.Context) error      { return f.op("OpenStation") }
func (f *fakeBackend) CloseStation(context.Context) error     { return f.op("CloseStation") }

func (f *fakeBackend) CreateNetwork(_ context.Context, _ backend.CreateConfig) error {
	return f.op("CreateNetwork")
}
func (f *fakeBackend) DestroyNetwork(context.Context) error { return f.op("DestroyNetwork") }

func (f *fakeBackend) Connect(_ context.Context, _ backend.JoinParams, _ model.ScanResult) error {
	return f.op("Connect")
}
func (f *fakeBackend) Disconnect(context.Context) error { return f.op("Disconnect") }

func (f *fakeBackend) Scan(_ context.Context, _ backend.ScanFilter) ([]model.ScanResult, error) {
	if err := f.op("Scan"); err != nil {
		return nil, err
	}
	return f.scanOut, nil
}

func (f *fakeBackend) GetNetworkInfo() (model.NetworkDescriptor, error) {
	return model.NetworkDescriptor{Name: "fake", AppID: 1, NodeCount: 1, NodeCountMax: 2}, nil
}

func (f *fakeBackend) SendPacket(_ context.Context, _ []byte, _ uint8) error {
	return f.op("SendPacket")
}

func (f *fakeBackend) ReceivePacket(context.Context) ([]byte, uint8, error) {
	if err := f.op("ReceivePacket"); err != nil {
		return nil, 0, err
	}
	return f.recvData, f.recvCh, nil
}

func (f *fakeBackend) SetAdvertiseData([]byte) error { return f.op("SetAdvertiseData") }

func (f *fakeBackend) GetSecurityParameter() (model.SecurityParameter, error) {
	return model.SecurityParameter{}, nil
}

func (f *fakeBackend) GetDisconnectReason() (model.DisconnectReason, error) {
	return f.lastReason, nil
}

var _ backend.Backend = (*fakeBackend)(nil)

func target() model.ScanResult {
	return model.ScanResult{Network: model.NetworkDescriptor{AppID: 1, Name: "fake"}}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	s := New(fb, reconnect.Policy{})
	ctx := context.Background()

	// Calls before Initialize are illegal and touch nothing.
	if err := s.Connect(ctx, backend.JoinParams{}, target()); ldnerr.KindOf(err) != ldnerr.KindInvalidState {
		t.Fatalf("err=%v", err)
	}
	if len(fb.calls) != 0 {
		t.Fatalf("backend touched: %v", fb.calls)
	}

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Initialize(); ldnerr.KindOf(err) != ldnerr.KindInvalidState {
		t.Fatalf("double initialize: %v", err)
	}
	if err := s.OpenStation(ctx); err != nil {
		t.Fatalf("OpenStation: %v", err)
	}
	if err := s.Connect(ctx, backend.JoinParams{}, target()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := s.GetState(); got != model.StateConnected {
		t.Fatalf("state=%v", got)
	}

	if err := s.SendPacket(ctx, []byte("x"), 0); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	fb.recvData, fb.recvCh = []byte("y"), 3
	data, ch, err := s.ReceivePacket(ctx)
	if err != nil || string(data) != "y" || ch != 3 {
		t.Fatalf("data=%q ch=%d err=%v", data, ch, err)
	}

	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := s.GetState(); got != model.StateStationOpen {
		t.Fatalf("state=%v", got)
	}
	if err := s.CloseStation(ctx); err != nil {
		t.Fatalf("CloseStation: %v", err)
	}
	if got := s.GetState(); got != model.StateInitialized {
		t.Fatalf("state=%v", got)
	}
}

func TestHostLifecycle(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	s := New(fb, reconnect.Policy{})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenAccessPoint(ctx); err != nil {
		t.Fatalf("OpenAccessPoint: %v", err)
	}
	if err := s.CreateNetwork(ctx, backend.CreateConfig{AppID: 1, NodeCountMax: 2}); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	if got := s.GetState(); got != model.StateHosting {
		t.Fatalf("state=%v", got)
	}

	// Scan is not legal while hosting.
	if _, err := s.Scan(ctx, backend.ScanFilter{}); ldnerr.KindOf(err) != ldnerr.KindInvalidState {
		t.Fatalf("err=%v", err)
	}
	if err := s.SetAdvertiseData([]byte{1}); err != nil {
		t.Fatalf("SetAdvertiseData: %v", err)
	}

	if err := s.DestroyNetwork(ctx); err != nil {
		t.Fatalf("DestroyNetwork: %v", err)
	}
	if got := s.GetState(); got != model.StateAccessPointOpen {
		t.Fatalf("state=%v", got)
	}
}

func TestFailedOpLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		failOp:    "CreateNetwork",
		failWith:  ldnerr.New(ldnerr.KindValidationFailed, "create network"),
		failCount: -1,
	}
	s := New(fb, reconnect.Policy{})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenAccessPoint(ctx); err != nil {
		t.Fatalf("OpenAccessPoint: %v", err)
	}
	err := s.CreateNetwork(ctx, backend.CreateConfig{})
	if ldnerr.KindOf(err) != ldnerr.KindValidationFailed {
		t.Fatalf("err=%v", err)
	}
	if got := s.GetState(); got != model.StateAccessPointOpen {
		t.Fatalf("state=%v", got)
	}
}

func TestFatalErrorPoisonsSession(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		failOp:    "Connect",
		failWith:  ldnerr.New(ldnerr.KindUnauthenticated, "connect"),
		failCount: -1,
	}
	s := New(fb, reconnect.Policy{})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenStation(ctx); err != nil {
		t.Fatalf("OpenStation: %v", err)
	}
	if err := s.Connect(ctx, backend.JoinParams{}, target()); ldnerr.KindOf(err) != ldnerr.KindUnauthenticated {
		t.Fatalf("err=%v", err)
	}
	if got := s.GetState(); got != model.StateError {
		t.Fatalf("state=%v", got)
	}

	// Everything but Finalize is now illegal.
	if err := s.OpenStation(ctx); ldnerr.KindOf(err) != ldnerr.KindInvalidState {
		t.Fatalf("err=%v", err)
	}
	s.Finalize(ctx)
	if got := s.GetState(); got != model.StateUninitialized {
		t.Fatalf("state=%v", got)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("reuse after finalize: %v", err)
	}
}

func TestFinalizeUnwindsBackend(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	s := New(fb, reconnect.Policy{})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenAccessPoint(ctx); err != nil {
		t.Fatalf("OpenAccessPoint: %v", err)
	}
	if err := s.CreateNetwork(ctx, backend.CreateConfig{AppID: 1, NodeCountMax: 2}); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}

	s.Finalize(ctx)
	if fb.called("DestroyNetwork") != 1 || fb.called("CloseAccessPoint") != 1 {
		t.Fatalf("calls=%v", fb.calls)
	}
	if got := s.GetState(); got != model.StateUninitialized {
		t.Fatalf("state=%v", got)
	}
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		failOp:    "Connect",
		failWith:  ldnerr.New(ldnerr.KindTimeout, "connect"),
		failCount: 2,
	}
	s := New(fb, reconnect.Policy{
		Enabled:     true,
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenStation(ctx); err != nil {
		t.Fatalf("OpenStation: %v", err)
	}
	if err := s.Connect(ctx, backend.JoinParams{}, target()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := fb.called("Connect"); got != 3 {
		t.Fatalf("connect attempts=%d", got)
	}
	if got := s.GetState(); got != model.StateConnected {
		t.Fatalf("state=%v", got)
	}
}

func TestConnectDoesNotRetryAuthFailures(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		failOp:    "Connect",
		failWith:  ldnerr.New(ldnerr.KindUnauthenticated, "connect"),
		failCount: -1,
	}
	s := New(fb, reconnect.Policy{Enabled: true, MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenStation(ctx); err != nil {
		t.Fatalf("OpenStation: %v", err)
	}
	if err := s.Connect(ctx, backend.JoinParams{}, target()); err == nil {
		t.Fatalf("connect succeeded")
	}
	if got := fb.called("Connect"); got != 1 {
		t.Fatalf("connect attempts=%d", got)
	}
}

func TestUnclassifiedErrorMapsToErrorState(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		failOp:    "OpenStation",
		failWith:  errors.New("backend exploded"),
		failCount: -1,
	}
	s := New(fb, reconnect.Policy{})
	ctx := context.Background()

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.OpenStation(ctx); err == nil {
		t.Fatalf("open succeeded")
	}
	if got := s.GetState(); got != model.StateError {
		t.Fatalf("state=%v", got)
	}
}
