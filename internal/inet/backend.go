// Package inet is the internet transport: session-directory signaling,
// a punched direct peer link, and transparent relay fallback. Callers
// observe no interface difference between the two paths, only a
// link-quality degradation in GetNetworkInfo.
package inet

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ldnlink/internal/addrutil"
	"ldnlink/internal/api"
	"ldnlink/internal/backend"
	"ldnlink/internal/config"
	"ldnlink/internal/direct"
	"ldnlink/internal/governor"
	"ldnlink/internal/ldnerr"
	"ldnlink/internal/linkmeter"
	"ldnlink/internal/model"
	"ldnlink/internal/native"
	"ldnlink/internal/relay"
	"ldnlink/internal/stunutil"
)

// ProtocolVersion is negotiated through the room directory; mismatches
// are non-retryable.
const ProtocolVersion uint16 = 4

// Options wires the backend's collaborators. Rand and Clock are
// injectable for tests; nil picks the production sources.
type Options struct {
	Config *config.ClientConfig
	Rand   io.Reader
	Clock  clock.Clock
}

type packet struct {
	data    []byte
	channel uint8
}

// Backend implements backend.Backend over the internet transport.
type Backend struct {
	cfg     *config.ClientConfig
	dir     *api.Client
	randSrc io.Reader
	clk     clock.Clock

	mu           sync.Mutex
	state        model.ConnectionState
	sess         model.SessionInfo
	desc         model.NetworkDescriptor
	handle       string
	memberHandle string
	usingRelay   bool
	link         *direct.Link
	relayCli     *relay.Client
	bucket       *governor.TokenBucket
	reason       model.DisconnectReason
	tearing      bool
	bgCancel     context.CancelFunc
	bgWait       *sync.WaitGroup
	recvQ        chan packet
	sendSem      chan struct{}
	scanCache    map[scanKey]api.SessionRecord
	secParam     model.SecurityParameter
	hasSec       bool

	meter linkmeter.Meter
}

type scanKey struct {
	appID   uint64
	name    string
	channel uint16
}

// New builds an internet backend from client configuration.
func New(opts Options) *Backend {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Backend{
		cfg:       opts.Config,
		dir:       api.NewClient(opts.Config.RoomURL, opts.Config.AuthToken, opts.Config.MessageTimeout()),
		randSrc:   opts.Rand,
		clk:       clk,
		state:     model.StateInitialized,
		scanCache: make(map[scanKey]api.SessionRecord),
	}
}

// GetState returns the backend's view of the lifecycle state.
func (b *Backend) GetState() model.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenAccessPoint prepares the backend for hosting.
func (b *Backend) OpenAccessPoint(ctx context.Context) error {
	return b.setState(model.StateInitialized, model.StateAccessPointOpen, "open access point")
}

// CloseAccessPoint leaves hosting mode. A still-hosted network is torn
// down first.
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

// CreateNetwork registers a hosted session with the room directory and
// opens the direct peer link joiners punch toward.
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

	link, err := direct.Listen(linkAddr(b.cfg.LinkPort))
	if err != nil {
		return ldnerr.Wrap(ldnerr.KindTransportFault, "create network", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout())
	defer cancel()

	// Best effort: a missing public address only means joiners punch
	// the registered endpoint instead.
	var public stunutil.Result
	if res, err := (stunutil.Prober{Servers: b.cfg.STUNServers, Timeout: 3 * time.Second}).Discover(ctx); err != nil {
		log.Printf("stun discovery failed: %v", err)
		public.NATType = stunutil.NATUnknown
	} else {
		public = res
	}

	reg, err := b.dir.Register(ctx, api.RegisterRequest{
		Record: api.SessionRecord{
			AppID:          cfg.AppID,
			SceneID:        cfg.SceneID,
			Name:           cfg.Name,
			Channel:        cfg.Channel,
			NodeCount:      1,
			NodeCountMax:   cfg.NodeCountMax,
			HasPassword:    desc.HasPassword,
			AdvertiseData:  desc.AdvertiseData,
			SessionID:      hex.EncodeToString(sess.SessionID[:]),
			HostEndpoint:   addrutil.AdvertisedAddr(link.LocalAddr()),
			HostPublicAddr: public.PublicAddr,
			NATType:        public.NATType,
		},
		Passphrase: cfg.Passphrase,
		Version:    ProtocolVersion,
	})
	if err != nil {
		_ = link.Close()
		return err
	}

	// The host also sits on the relay room so joiners behind hostile
	// NATs can still reach it. Failure here only disables the fallback.
	relayCli, rerr := relay.Dial(ctx, relayJoinURL(reg.RelayURL, reg.RelayToken), reg.RelayToken, b.cfg.AuthToken, b.cfg.MessageTimeout())
	if rerr != nil {
		log.Printf("relay attach failed, direct only: %v", rerr)
	}

	b.mu.Lock()
	b.state = model.StateHosting
	b.sess = sess
	b.desc = desc
	b.handle = reg.Handle
	b.link = link
	b.relayCli = relayCli
	b.usingRelay = false
	b.reason = model.DisconnectNone
	b.tearing = false
	b.secParam = native.DeriveSecurityParameter(sess.SessionID, cfg.Passphrase)
	b.hasSec = true
	b.meter.Reset()
	b.meter.SetPath(linkmeter.PathDirect)
	b.startPlumbingLocked(true)
	b.mu.Unlock()

	log.Printf("hosting session handle=%s name=%q endpoint=%s", reg.Handle, cfg.Name, link.LocalAddr())
	return nil
}

// DestroyNetwork withdraws the hosted session and tears the transports
// down. In-flight sends fail cleanly.
func (b *Backend) DestroyNetwork(ctx context.Context) error {
	b.mu.Lock()
	if b.state != model.StateHosting {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "destroy network")
	}
	handle := b.handle
	b.mu.Unlock()

	if err := b.dir.Unregister(ctx, handle); err != nil {
		log.Printf("unregister failed: %v", err)
	}
	b.teardown(model.StateAccessPointOpen, model.DisconnectLocalRequest)
	return nil
}

// Connect joins a previously scanned network, preferring a punched
// direct link and falling over to relay transport inside the bounded
// attempt window.
func (b *Backend) Connect(ctx context.Context, params backend.JoinParams, target model.ScanResult) error {
	b.mu.Lock()
	if b.state != model.StateStationOpen {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "connect")
	}
	rec, ok := b.scanCache[scanKey{target.Network.AppID, target.Network.Name, target.Network.Channel}]
	b.mu.Unlock()
	if !ok {
		return ldnerr.Errorf(ldnerr.KindValidationFailed, "connect: target not in scan results")
	}

	version := params.Version
	if version == 0 {
		version = ProtocolVersion
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout())
	defer cancel()

	join, err := b.dir.Join(ctx, api.JoinRequest{
		Handle:     rec.Handle,
		Passphrase: params.Passphrase,
		Version:    version,
		NodeName:   params.NodeName,
	})
	if err != nil {
		return err
	}

	link, err := direct.Listen(linkAddr(b.cfg.LinkPort))
	if err != nil {
		b.leave(join.Record.Handle, join.MemberHandle)
		return ldnerr.Wrap(ldnerr.KindTransportFault, "connect", err)
	}

	var (
		usingRelay bool
		relayCli   *relay.Client
		rtt        time.Duration
	)
	if punchRTT, perr := b.punch(ctx, link, join); perr == nil {
		rtt = punchRTT
	} else {
		log.Printf("direct punch failed, using relay: %v", perr)
		relayCli, err = relay.Dial(ctx, relayJoinURL(join.RelayURL, join.RelayToken), join.RelayToken, b.cfg.AuthToken, b.cfg.MessageTimeout())
		if err != nil {
			_ = link.Close()
			// The join already consumed a slot; hand it back so the
			// session does not fill up with ghosts.
			b.leave(join.Record.Handle, join.MemberHandle)
			return err
		}
		usingRelay = true
	}

	desc := descriptorFromRecord(join.Record)

	b.mu.Lock()
	b.state = model.StateConnected
	b.desc = desc
	b.handle = join.Record.Handle
	b.memberHandle = join.MemberHandle
	b.link = link
	b.relayCli = relayCli
	b.usingRelay = usingRelay
	b.reason = model.DisconnectNone
	b.tearing = false
	b.secParam = joinSecurityParameter(join.Record.SessionID, params.Passphrase)
	b.hasSec = true
	b.meter.Reset()
	if usingRelay {
		b.meter.SetPath(linkmeter.PathRelay)
	} else {
		b.meter.SetPath(linkmeter.PathDirect)
		b.meter.Add(rtt)
	}
	b.startPlumbingLocked(false)
	b.mu.Unlock()

	log.Printf("connected handle=%s relay=%v slot=%d", join.Record.Handle, usingRelay, join.SlotIndex)
	return nil
}

// Disconnect leaves the joined session, releasing its directory slot
// so the host can admit a replacement.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != model.StateConnected {
		b.mu.Unlock()
		return ldnerr.New(ldnerr.KindInvalidState, "disconnect")
	}
	handle := b.handle
	member := b.memberHandle
	b.mu.Unlock()

	b.leave(handle, member)
	b.teardown(model.StateStationOpen, model.DisconnectLocalRequest)
	return nil
}

// leave is best effort: a failure only means the slot stays consumed
// until the registration's TTL lapses. The directory call runs on its
// own deadline so an expired connect context cannot leak the slot.
func (b *Backend) leave(handle, member string) {
	if handle == "" || member == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.MessageTimeout())
	defer cancel()
	if err := b.dir.Leave(ctx, handle, member); err != nil {
		log.Printf("leave failed: %v", err)
	}
}

func (b *Backend) punch(ctx context.Context, link *direct.Link, join api.JoinResponse) (time.Duration, error) {
	candidates := addrutil.PunchCandidates(join.HostPublicAddr, join.HostEndpoint)
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no punch candidates")
	}
	per := b.cfg.ConnectTimeout() / time.Duration(len(candidates)+1)
	if per < time.Second {
		per = time.Second
	}
	var lastErr error
	for _, addr := range candidates {
		attempt, cancel := context.WithTimeout(ctx, per)
		rtt, err := link.Punch(attempt, addr, 200*time.Millisecond)
		cancel()
		if err == nil {
			return rtt, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func linkAddr(port int) string {
	if port > 0 {
		return fmt.Sprintf(":%d", port)
	}
	return ":0"
}

func relayJoinURL(base string, token uint32) string {
	return fmt.Sprintf("%s?token=%d", base, token)
}

func descriptorFromRecord(rec api.SessionRecord) model.NetworkDescriptor {
	return model.NetworkDescriptor{
		Name:          rec.Name,
		AppID:         rec.AppID,
		Channel:       rec.Channel,
		LinkLevel:     model.LinkExcellent,
		NodeCount:     rec.NodeCount,
		NodeCountMax:  rec.NodeCountMax,
		AdvertiseData: rec.AdvertiseData,
		HasPassword:   rec.HasPassword,
	}
}

func joinSecurityParameter(sessionIDHex string, passphrase []byte) model.SecurityParameter {
	var id [model.SessionIDSize]byte
	if raw, err := hex.DecodeString(sessionIDHex); err == nil {
		copy(id[:], raw)
	}
	return native.DeriveSecurityParameter(id, passphrase)
}
