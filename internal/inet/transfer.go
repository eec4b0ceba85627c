package inet

import (
	"context"
	"log"
	"sync"
	"time"

	"ldnlink/internal/api"
	"ldnlink/internal/backend"
	"ldnlink/internal/direct"
	"ldnlink/internal/governor"
	"ldnlink/internal/ldnerr"
	"ldnlink/internal/linkmeter"
	"ldnlink/internal/model"
	"ldnlink/internal/relay"
	"ldnlink/internal/stunutil"
)

// startPlumbingLocked spins up the background loops for an active
// session: governor refill, receive pumps, and the host keepalive.
// Caller holds b.mu with link/relayCli/handle already set.
func (b *Backend) startPlumbingLocked(host bool) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	b.bgCancel = cancel
	b.bgWait = wg
	b.bucket = governor.NewTokenBucket(b.cfg.RelayBurstBytes, b.cfg.RelayRateBytesPerSec)
	b.recvQ = make(chan packet, b.cfg.MessageQueueSize)
	b.sendSem = make(chan struct{}, b.cfg.MaxConcurrentMessages)

	bucket := b.bucket
	wg.Add(1)
	go func() {
		defer wg.Done()
		bucket.Run(ctx, b.clk, 100*time.Millisecond)
	}()

	if l := b.link; l != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.pumpLink(ctx, l)
		}()
	}
	if rc := b.relayCli; rc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.pumpRelay(ctx, rc)
		}()
	}
	if host {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.keepaliveLoop(ctx)
		}()
	}
}

func (b *Backend) pumpLink(ctx context.Context, l *direct.Link) {
	for {
		p, err := l.Receive(ctx)
		if err != nil {
			return
		}
		b.deliver(packet{data: p.Data, channel: p.Channel})
	}
}

func (b *Backend) pumpRelay(ctx context.Context, rc *relay.Client) {
	for {
		d, err := rc.Receive(ctx)
		if err != nil {
			return
		}
		// Relay traffic arriving means at least one peer could not
		// punch; reflect that in the reported quality.
		b.meter.SetPath(linkmeter.PathRelay)
		channel := d.Header.Reserved
		b.deliver(packet{data: d.Payload, channel: channel})
	}
}

func (b *Backend) deliver(p packet) {
	b.mu.Lock()
	q := b.recvQ
	b.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- p:
	default:
		// Guest is not draining; dropping beats unbounded growth.
	}
}

func (b *Backend) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Heartbeat())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			handle := b.handle
			advertise := b.desc.AdvertiseData
			b.mu.Unlock()
			if handle == "" {
				continue
			}
			kctx, cancel := context.WithTimeout(ctx, b.cfg.MessageTimeout())
			resp, err := b.dir.Keepalive(kctx, apiKeepalive(handle, advertise))
			cancel()
			if err != nil {
				log.Printf("keepalive failed: %v", err)
				continue
			}
			b.mu.Lock()
			if resp.NodeCount > 0 {
				b.desc.NodeCount = resp.NodeCount
			}
			b.mu.Unlock()
		}
	}
}

func apiKeepalive(handle string, advertise []byte) api.KeepaliveRequest {
	return api.KeepaliveRequest{Handle: handle, AdvertiseData: advertise}
}

// teardown stops the plumbing and moves to the given state. In-flight
// sends and receives fail with transport errors instead of touching
// released sockets.
func (b *Backend) teardown(to model.ConnectionState, reason model.DisconnectReason) {
	b.mu.Lock()
	if b.tearing {
		b.mu.Unlock()
		return
	}
	b.tearing = true
	cancel := b.bgCancel
	wg := b.bgWait
	link := b.link
	relayCli := b.relayCli
	b.link = nil
	b.relayCli = nil
	b.recvQ = nil
	b.handle = ""
	b.memberHandle = ""
	b.state = to
	b.reason = reason
	b.usingRelay = false
	b.hasSec = false
	b.meter.Reset()
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if link != nil {
		_ = link.Close()
	}
	if relayCli != nil {
		_ = relayCli.Close()
	}
	if wg != nil {
		wg.Wait()
	}

	b.mu.Lock()
	b.tearing = false
	b.mu.Unlock()
}

// SendPacket routes one application datagram through the governor and
// the active transport.
func (b *Backend) SendPacket(ctx context.Context, data []byte, channel uint8) error {
	b.mu.Lock()
	if b.state != model.StateHosting && b.state != model.StateConnected {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "send packet")
	}
	if b.tearing {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindTransportFault, "send packet")
	}
	bucket := b.bucket
	sem := b.sendSem
	link := b.link
	relayCli := b.relayCli
	useRelay := b.usingRelay || link == nil || !link.HasPeer()
	b.mu.Unlock()

	if !bucket.TryConsume(int64(len(data))) {
		return ldnerr.New(ldnerr.KindRateLimited, "send packet")
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.MessageTimeout())
	defer cancel()
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return ldnerr.Wrap(ldnerr.KindTimeout, "send packet", ctx.Err())
	}

	if useRelay && relayCli != nil {
		return relayCli.SendChannel(data, channel)
	}
	if link == nil {
		return ldnerr.New(ldnerr.KindTransportFault, "send packet")
	}
	if err := link.Send(data, channel); err != nil {
		return ldnerr.Wrap(ldnerr.KindTransportFault, "send packet", err)
	}
	return nil
}

// ReceivePacket returns the next datagram from either transport.
func (b *Backend) ReceivePacket(ctx context.Context) ([]byte, uint8, error) {
	b.mu.Lock()
	if b.state != model.StateHosting && b.state != model.StateConnected {
		b.mu.Unlock()
		return nil, 0, ldnerr.New(ldnerr.KindInvalidState, "receive packet")
	}
	q := b.recvQ
	b.mu.Unlock()
	if q == nil {
		return nil, 0, ldnerr.New(ldnerr.KindTransportFault, "receive packet")
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.MessageTimeout())
	defer cancel()
	select {
	case p := <-q:
		return p.data, p.channel, nil
	case <-ctx.Done():
		return nil, 0, ldnerr.Wrap(ldnerr.KindTimeout, "receive packet", ctx.Err())
	}
}

// Scan queries the room directory. Cancellation leaves the backend in
// its pre-scan state; results refresh the join cache.
func (b *Backend) Scan(ctx context.Context, filter backend.ScanFilter) ([]model.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout())
	defer cancel()

	resp, err := b.dir.Scan(ctx, filter.AppID, filter.Name, filter.Channel)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]model.ScanResult, 0, len(resp.Sessions))
	b.mu.Lock()
	for _, rec := range resp.Sessions {
		b.scanCache[scanKey{rec.AppID, rec.Name, rec.Channel}] = rec
		results = append(results, model.ScanResult{
			Network:    descriptorFromRecord(rec),
			RSSI:       synthesizeRSSI(rec.NATType),
			CapturedAt: now,
		})
	}
	b.mu.Unlock()
	return results, nil
}

// synthesizeRSSI maps the host's NAT class to a plausible strength:
// hosts likely to need relay fallback look weaker to the guest.
func synthesizeRSSI(natType string) int {
	switch natType {
	case stunutil.NATSymmetric:
		return -70
	case stunutil.NATUnknown:
		return -60
	default:
		return -50
	}
}

// GetNetworkInfo reports the active session with the measured link
// quality folded in.
func (b *Backend) GetNetworkInfo() (model.NetworkDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.StateHosting && b.state != model.StateConnected {
		return model.NetworkDescriptor{}, ldnerr.New(ldnerr.KindInvalidState, "get network info")
	}
	desc := b.desc
	desc.AdvertiseData = append([]byte(nil), b.desc.AdvertiseData...)
	desc.LinkLevel = b.meter.Level()
	return desc, nil
}

// SetAdvertiseData replaces the beacon blob. When hosting, the
// directory copy is refreshed immediately.
func (b *Backend) SetAdvertiseData(data []byte) error {
	if len(data) > model.AdvertiseDataLimit {
		return ldnerr.New(ldnerr.KindValidationFailed, "set advertise data")
	}

	b.mu.Lock()
	if b.state != model.StateHosting && b.state != model.StateAccessPointOpen {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "set advertise data")
	}
	b.desc.AdvertiseData = append([]byte(nil), data...)
	handle := b.handle
	b.mu.Unlock()

	if handle == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.MessageTimeout())
	defer cancel()
	if _, err := b.dir.Keepalive(ctx, apiKeepalive(handle, data)); err != nil {
		return err
	}
	return nil
}

// GetSecurityParameter exposes the session's authentication material.
func (b *Backend) GetSecurityParameter() (model.SecurityParameter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasSec {
		return model.SecurityParameter{}, ldnerr.New(ldnerr.KindInvalidState, "get security parameter")
	}
	return b.secParam, nil
}

// GetDisconnectReason reports why the last session ended.
func (b *Backend) GetDisconnectReason() (model.DisconnectReason, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason, nil
}

var _ backend.Backend = (*Backend)(nil)
