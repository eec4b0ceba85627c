package radio

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"ldnlink/internal/backend"
	"ldnlink/internal/ldnerr"
	"ldnlink/internal/model"
	"ldnlink/internal/native"
)

const (
	// DefaultScanWindow is how long a Scan collects beacons before
	// reporting.
	DefaultScanWindow = 2 * time.Second

	// DefaultMessageTimeout bounds blocking receives on the data path.
	DefaultMessageTimeout = 5 * time.Second
)

// Options wires a radio backend. Rand is injectable for tests; nil uses
// the production source.
type Options struct {
	Platform       Platform
	Rand           io.Reader
	ScanWindow     time.Duration
	MessageTimeout time.Duration
}

// Backend implements backend.Backend over a wireless Platform.
type Backend struct {
	platform Platform
	randSrc  io.Reader
	window   time.Duration
	msgWait  time.Duration

	mu        sync.Mutex
	state     model.ConnectionState
	desc      model.NetworkDescriptor
	reason    model.DisconnectReason
	secParam  model.SecurityParameter
	hasSec    bool
	scanCache map[scanKey]native.NetworkInfo
}

type scanKey struct {
	appID   uint64
	name    string
	channel uint16
}

// New builds a radio backend around the given platform.
func New(opts Options) *Backend {
	window := opts.ScanWindow
	if window <= 0 {
		window = DefaultScanWindow
	}
	msgWait := opts.MessageTimeout
	if msgWait <= 0 {
		msgWait = DefaultMessageTimeout
	}
	return &Backend{
		platform:  opts.Platform,
		randSrc:   opts.Rand,
		window:    window,
		msgWait:   msgWait,
		state:     model.StateInitialized,
		scanCache: make(map[scanKey]native.NetworkInfo),
	}
}

// GetState returns the backend's view of the lifecycle state.
func (b *Backend) GetState() model.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenAccessPoint checks that the adapter can host before entering
// hosting mode.
func (b *Backend) OpenAccessPoint(ctx context.Context) error {
	info, err := b.platform.Adapter()
	if err != nil {
		return platformErr("open access point", err)
	}
	if !info.CanHost {
		return ldnerr.Errorf(ldnerr.KindUnsupported, "open access point: adapter %s cannot host", info.Name)
	}
	return b.setState(model.StateInitialized, model.StateAccessPointOpen, "open access point")
}

// CloseAccessPoint leaves hosting mode, stopping a live hotspot first.
func (b *Backend) CloseAccessPoint(ctx context.Context) error {
	b.mu.Lock()
	hosting := b.state == model.StateHosting
	b.mu.Unlock()
	if hosting {
		if err := b.DestroyNetwork(ctx); err != nil {
			return err
		}
	}
	return b.setState(model.StateAccessPointOpen, model.StateInitialized, "close access point")
}

// OpenStation prepares the backend for joining.
func (b *Backend) OpenStation(ctx context.Context) error {
	if _, err := b.platform.Adapter(); err != nil {
		return platformErr("open station", err)
	}
	return b.setState(model.StateInitialized, model.StateStationOpen, "open station")
}

// CloseStation leaves station mode, disconnecting first if needed.
func (b *Backend) CloseStation(ctx context.Context) error {
	b.mu.Lock()
	connected := b.state == model.StateConnected
	b.mu.Unlock()
	if connected {
		if err := b.Disconnect(ctx); err != nil {
			return err
		}
	}
	return b.setState(model.StateStationOpen, model.StateInitialized, "close station")
}

func (b *Backend) setState(from, to model.ConnectionState, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != from {
		return ldnerr.New(ldnerr.KindInvalidState, op)
	}
	b.state = to
	return nil
}

// CreateNetwork starts advertising a hosted network over the adapter.
func (b *Backend) CreateNetwork(ctx context.Context, cfg backend.CreateConfig) error {
	desc := model.NetworkDescriptor{
		Name:          cfg.Name,
		AppID:         cfg.AppID,
		Channel:       cfg.Channel,
		LinkLevel:     model.LinkExcellent,
		NodeCount:     1,
		NodeCountMax:  cfg.NodeCountMax,
		AdvertiseData: append([]byte(nil), cfg.AdvertiseData...),
		HasPassword:   cfg.Security != model.SecurityOpen,
	}
	if !native.ValidateInternal(desc) {
		return ldnerr.New(ldnerr.KindValidationFailed, "create network")
	}

	b.mu.Lock()
	if b.state != model.StateAccessPointOpen {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "create network")
	}
	b.mu.Unlock()

	sess, err := native.CreateSessionInfo(b.randSrc, cfg.AppID, cfg.SceneID, cfg.Security, cfg.Passphrase)
	if err != nil {
		return ldnerr.Wrap(ldnerr.KindValidationFailed, "create network", err)
	}

	info := native.ToNetworkInfo(desc)
	info.SessionID = sess.SessionID
	info.SecurityMode = native.SecurityModeFromModel(cfg.Security)

	if err := b.platform.StartHotspot(ctx, HotspotConfig{
		Info:       info,
		Passphrase: cfg.Passphrase,
		Channel:    cfg.Channel,
	}); err != nil {
		return platformErr("create network", err)
	}

	b.mu.Lock()
	b.state = model.StateHosting
	b.desc = desc
	b.reason = model.DisconnectNone
	b.secParam = native.DeriveSecurityParameter(sess.SessionID, cfg.Passphrase)
	b.hasSec = true
	b.mu.Unlock()

	log.Printf("radio hosting name=%q channel=%d", cfg.Name, cfg.Channel)
	return nil
}

// DestroyNetwork stops the hotspot.
func (b *Backend) DestroyNetwork(ctx context.Context) error {
	b.mu.Lock()
	if b.state != model.StateHosting {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "destroy network")
	}
	b.mu.Unlock()

	if err := b.platform.StopHotspot(); err != nil {
		log.Printf("stop hotspot: %v", err)
	}
	b.mu.Lock()
	b.state = model.StateAccessPointOpen
	b.reason = model.DisconnectLocalRequest
	b.hasSec = false
	b.desc = model.NetworkDescriptor{}
	b.mu.Unlock()
	return nil
}

// Connect associates with a network found by a prior Scan.
func (b *Backend) Connect(ctx context.Context, params backend.JoinParams, target model.ScanResult) error {
	b.mu.Lock()
	if b.state != model.StateStationOpen {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "connect")
	}
	info, ok := b.scanCache[scanKey{target.Network.AppID, target.Network.Name, target.Network.Channel}]
	b.mu.Unlock()
	if !ok {
		return ldnerr.Errorf(ldnerr.KindValidationFailed, "connect: target not in scan results")
	}
	if info.SecurityMode != native.SecurityModeOpen && len(params.Passphrase) == 0 {
		return ldnerr.New(ldnerr.KindUnauthenticated, "connect")
	}

	if err := b.platform.JoinHotspot(ctx, JoinConfig{
		Info:       info,
		Passphrase: params.Passphrase,
		NodeName:   params.NodeName,
	}); err != nil {
		return platformErr("connect", err)
	}

	b.mu.Lock()
	b.state = model.StateConnected
	b.desc = native.FromNetworkInfo(info)
	b.reason = model.DisconnectNone
	b.secParam = native.DeriveSecurityParameter(info.SessionID, params.Passphrase)
	b.hasSec = true
	b.mu.Unlock()

	log.Printf("radio connected name=%q", target.Network.Name)
	return nil
}

// Disconnect leaves the joined network.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != model.StateConnected {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "disconnect")
	}
	b.mu.Unlock()

	if err := b.platform.LeaveHotspot(); err != nil {
		log.Printf("leave hotspot: %v", err)
	}
	b.mu.Lock()
	b.state = model.StateStationOpen
	b.reason = model.DisconnectLocalRequest
	b.hasSec = false
	b.desc = model.NetworkDescriptor{}
	b.mu.Unlock()
	return nil
}

// Scan runs discovery for the configured window and reports the beacons
// observed, with raw signal readings quantized to bucket representatives.
func (b *Backend) Scan(ctx context.Context, filter backend.ScanFilter) ([]model.ScanResult, error) {
	if err := b.platform.StartDiscovery(ctx, filter.Channel); err != nil {
		return nil, platformErr("scan", err)
	}
	defer func() {
		if err := b.platform.StopDiscovery(); err != nil {
			log.Printf("stop discovery: %v", err)
		}
	}()

	select {
	case <-time.After(b.window):
	case <-ctx.Done():
		return nil, ldnerr.Wrap(ldnerr.KindTimeout, "scan", ctx.Err())
	}

	beacons, err := b.platform.Beacons()
	if err != nil {
		return nil, platformErr("scan", err)
	}

	results := make([]model.ScanResult, 0, len(beacons))
	b.mu.Lock()
	for _, bc := range beacons {
		if !native.ValidateNative(bc.Info) {
			continue
		}
		if !matchesFilter(bc.Info, filter) {
			continue
		}
		b.scanCache[scanKey{bc.Info.AppID, bc.Info.SSID, bc.Info.Channel}] = bc.Info

		res := native.ScanResultFromNative(bc.Info, bc.SeenAt)
		level := native.BucketRSSI(bc.RSSIDBm)
		res.Network.LinkLevel = level
		res.RSSI = native.RepresentativeRSSI(level)
		results = append(results, res)
	}
	b.mu.Unlock()
	return results, nil
}

func matchesFilter(info native.NetworkInfo, filter backend.ScanFilter) bool {
	if filter.AppID != 0 && info.AppID != filter.AppID {
		return false
	}
	if filter.Name != "" && !strings.EqualFold(info.SSID, filter.Name) {
		return false
	}
	if filter.Channel != 0 && info.Channel != filter.Channel {
		return false
	}
	return true
}

// SendPacket hands one datagram to the adapter's data path.
func (b *Backend) SendPacket(ctx context.Context, data []byte, channel uint8) error {
	b.mu.Lock()
	active := b.state == model.StateHosting || b.state == model.StateConnected
	b.mu.Unlock()
	if !active {
		return ldnerr.New(ldnerr.KindInvalidState, "send packet")
	}
	if err := b.platform.SendFrame(data, channel); err != nil {
		return platformErr("send packet", err)
	}
	return nil
}

// ReceivePacket returns the next datagram from the adapter.
func (b *Backend) ReceivePacket(ctx context.Context) ([]byte, uint8, error) {
	b.mu.Lock()
	active := b.state == model.StateHosting || b.state == model.StateConnected
	b.mu.Unlock()
	if !active {
		return nil, 0, ldnerr.New(ldnerr.KindInvalidState, "receive packet")
	}

	ctx, cancel := context.WithTimeout(ctx, b.msgWait)
	defer cancel()
	f, err := b.platform.ReceiveFrame(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, ldnerr.Wrap(ldnerr.KindTimeout, "receive packet", err)
		}
		return nil, 0, platformErr("receive packet", err)
	}
	return f.Data, f.Channel, nil
}

// GetNetworkInfo reports the active network descriptor.
func (b *Backend) GetNetworkInfo() (model.NetworkDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.StateHosting && b.state != model.StateConnected {
		return model.NetworkDescriptor{}, ldnerr.New(ldnerr.KindInvalidState, "get network info")
	}
	desc := b.desc
	desc.AdvertiseData = append([]byte(nil), b.desc.AdvertiseData...)
	return desc, nil
}

// SetAdvertiseData replaces the beacon blob; a live hotspot re-beacons
// immediately.
func (b *Backend) SetAdvertiseData(data []byte) error {
	if len(data) > model.AdvertiseDataLimit {
		return ldnerr.New(ldnerr.KindValidationFailed, "set advertise data")
	}

	b.mu.Lock()
	if b.state != model.StateHosting && b.state != model.StateAccessPointOpen {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "set advertise data")
	}
	hosting := b.state == model.StateHosting
	b.desc.AdvertiseData = append([]byte(nil), data...)
	b.mu.Unlock()

	if !hosting {
		return nil
	}
	if err := b.platform.UpdateBeacon(data); err != nil {
		return platformErr("set advertise data", err)
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

func platformErr(op string, err error) error {
	if errors.Is(err, ErrNotSupported) {
		return ldnerr.Wrap(ldnerr.KindUnsupported, op, err)
	}
	return ldnerr.Wrap(ldnerr.KindTransportFault, op, err)
}

var _ backend.Backend = (*Backend)(nil)
