// Package session is the guest-facing lifecycle: it validates every
// call against the connection state, drives the active backend, and
// presents results in native form. One Session owns one backend.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"ldnlink/internal/backend"
	"ldnlink/internal/ldnerr"
	"ldnlink/internal/model"
	"ldnlink/internal/native"
	"ldnlink/internal/reconnect"
)

// Session serializes lifecycle calls for a single guest. Send and
// Receive run outside the session lock so data traffic never blocks
// control calls; the backend fails them cleanly during teardown.
type Session struct {
	be     backend.Backend
	policy reconnect.Policy

	mu    sync.Mutex
	state model.ConnectionState
}

// New wraps a backend. The reconnect policy applies to Connect; a
// zero-value policy disables retries.
func New(be backend.Backend, policy reconnect.Policy) *Session {
	return &Session{be: be, policy: policy, state: model.StateUninitialized}
}

// GetState returns the session's lifecycle state.
func (s *Session) GetState() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize brings the session up. Legal only from Uninitialized.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateUninitialized {
		return ldnerr.New(ldnerr.KindInvalidState, "initialize")
	}
	s.state = model.StateInitialized
	return nil
}

// Finalize unconditionally resets to Uninitialized. It is the only
// call that is legal in every state, including Error, and it tears any
// live backend resources down best-effort.
func (s *Session) Finalize(ctx context.Context) {
	s.mu.Lock()
	state := s.state
	s.state = model.StateUninitialized
	s.mu.Unlock()

	// Unwind whatever the backend still holds; failures here cannot
	// block the reset.
	switch state {
	case model.StateHosting:
		_ = s.be.DestroyNetwork(ctx)
		_ = s.be.CloseAccessPoint(ctx)
	case model.StateConnected:
		_ = s.be.Disconnect(ctx)
		_ = s.be.CloseStation(ctx)
	case model.StateAccessPointOpen:
		_ = s.be.CloseAccessPoint(ctx)
	case model.StateStationOpen:
		_ = s.be.CloseStation(ctx)
	}
}

// OpenAccessPoint enters hosting mode.
func (s *Session) OpenAccessPoint(ctx context.Context) error {
	return s.transition(ctx, model.StateInitialized, model.StateAccessPointOpen, "open access point",
		func() error { return s.be.OpenAccessPoint(ctx) })
}

// CloseAccessPoint leaves hosting mode.
func (s *Session) CloseAccessPoint(ctx context.Context) error {
	return s.transition(ctx, model.StateAccessPointOpen, model.StateInitialized, "close access point",
		func() error { return s.be.CloseAccessPoint(ctx) })
}

// OpenStation enters joining mode.
func (s *Session) OpenStation(ctx context.Context) error {
	return s.transition(ctx, model.StateInitialized, model.StateStationOpen, "open station",
		func() error { return s.be.OpenStation(ctx) })
}

// CloseStation leaves joining mode.
func (s *Session) CloseStation(ctx context.Context) error {
	return s.transition(ctx, model.StateStationOpen, model.StateInitialized, "close station",
		func() error { return s.be.CloseStation(ctx) })
}

// CreateNetwork hosts a network. Legal only from AccessPointOpen.
func (s *Session) CreateNetwork(ctx context.Context, cfg backend.CreateConfig) error {
	return s.transition(ctx, model.StateAccessPointOpen, model.StateHosting, "create network",
		func() error { return s.be.CreateNetwork(ctx, cfg) })
}

// DestroyNetwork stops hosting. Legal only from Hosting.
func (s *Session) DestroyNetwork(ctx context.Context) error {
	return s.transition(ctx, model.StateHosting, model.StateAccessPointOpen, "destroy network",
		func() error { return s.be.DestroyNetwork(ctx) })
}

// Connect joins a scanned network, retrying per the reconnect policy
// while the failure kind stays retryable.
func (s *Session) Connect(ctx context.Context, params backend.JoinParams, target model.ScanResult) error {
	attempts := 1
	if s.policy.Enabled && s.policy.MaxAttempts > 0 {
		attempts = s.policy.MaxAttempts
	}
	return s.transition(ctx, model.StateStationOpen, model.StateConnected, "connect", func() error {
		var err error
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				delay := s.policy.NextDelay(attempt - 1)
				log.Printf("connect retry %d/%d in %v", attempt, attempts-1, delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ldnerr.Wrap(ldnerr.KindTimeout, "connect", ctx.Err())
				}
			}
			if err = s.be.Connect(ctx, params, target); err == nil {
				return nil
			}
			if !s.policy.ShouldRetry(ldnerr.KindOf(err), attempt) {
				return err
			}
		}
		return err
	})
}

// Disconnect leaves the joined network. Legal only from Connected.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.transition(ctx, model.StateConnected, model.StateStationOpen, "disconnect",
		func() error { return s.be.Disconnect(ctx) })
}

// transition runs op under the session lock and applies the state
// change only on success. Non-retryable and unclassified failures move
// the session to Error; everything else leaves the state untouched.
func (s *Session) transition(ctx context.Context, from, to model.ConnectionState, op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return ldnerr.New(ldnerr.KindInvalidState, op)
	}
	if err := fn(); err != nil {
		if fatalKind(ldnerr.KindOf(err)) {
			s.state = model.StateError
		}
		return err
	}
	s.state = to
	return nil
}

// fatalKind reports whether a failure poisons the session. Only
// Finalize recovers from Error.
func fatalKind(k ldnerr.Kind) bool {
	switch k {
	case ldnerr.KindUnknown, ldnerr.KindUnauthenticated, ldnerr.KindVersionMismatch:
		return true
	}
	return false
}

// Scan is legal while an access point or station is open. It holds the
// session lock; discovery is bounded by the backend's own timeout.
func (s *Session) Scan(ctx context.Context, filter backend.ScanFilter) ([]model.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case model.StateAccessPointOpen, model.StateStationOpen:
	default:
		return nil, ldnerr.New(ldnerr.KindInvalidState, "scan")
	}
	return s.be.Scan(ctx, filter)
}

// ScanNative is Scan with results folded to native descriptors.
func (s *Session) ScanNative(ctx context.Context, filter backend.ScanFilter) ([]native.NetworkInfo, error) {
	results, err := s.Scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	infos := make([]native.NetworkInfo, len(results))
	for i, r := range results {
		infos[i] = native.ScanResultToNative(r)
	}
	return infos, nil
}

// SendPacket forwards one datagram. The session lock is not held while
// the backend blocks.
func (s *Session) SendPacket(ctx context.Context, data []byte, channel uint8) error {
	if err := s.requireActive("send packet"); err != nil {
		return err
	}
	return s.be.SendPacket(ctx, data, channel)
}

// ReceivePacket returns the next datagram. The session lock is not
// held while the backend blocks.
func (s *Session) ReceivePacket(ctx context.Context) ([]byte, uint8, error) {
	if err := s.requireActive("receive packet"); err != nil {
		return nil, 0, err
	}
	return s.be.ReceivePacket(ctx)
}

func (s *Session) requireActive(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateHosting && s.state != model.StateConnected {
		return ldnerr.New(ldnerr.KindInvalidState, op)
	}
	return nil
}

// GetNetworkInfo reports the active network descriptor.
func (s *Session) GetNetworkInfo() (model.NetworkDescriptor, error) {
	if err := s.requireActive("get network info"); err != nil {
		return model.NetworkDescriptor{}, err
	}
	return s.be.GetNetworkInfo()
}

// GetNetworkInfoNative is GetNetworkInfo in native form.
func (s *Session) GetNetworkInfoNative() (native.NetworkInfo, error) {
	d, err := s.GetNetworkInfo()
	if err != nil {
		return native.NetworkInfo{}, err
	}
	return native.ToNetworkInfo(d), nil
}

// SetAdvertiseData replaces the beacon blob. Legal while hosting or
// with the access point open.
func (s *Session) SetAdvertiseData(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case model.StateHosting, model.StateAccessPointOpen:
	default:
		return ldnerr.New(ldnerr.KindInvalidState, "set advertise data")
	}
	return s.be.SetAdvertiseData(data)
}

// GetSecurityParameter exposes the active session's authentication
// material.
func (s *Session) GetSecurityParameter() (model.SecurityParameter, error) {
	if err := s.requireActive("get security parameter"); err != nil {
		return model.SecurityParameter{}, err
	}
	return s.be.GetSecurityParameter()
}

// GetDisconnectReason reports why the last session ended.
func (s *Session) GetDisconnectReason() (model.DisconnectReason, error) {
	return s.be.GetDisconnectReason()
}
