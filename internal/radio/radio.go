// Package radio is the local-wireless transport. All hardware access
// goes through the Platform interface; the backend itself only runs the
// lifecycle and translates between native beacon structures and the
// internal model.
package radio

import (
	"context"
	"errors"
	"time"

	"ldnlink/internal/native"
)

// ErrNotSupported is returned by platforms for operations the local
// hardware cannot perform, e.g. the application data path on adapters
// that only expose scan and hotspot control.
var ErrNotSupported = errors.New("not supported on this platform")

// Beacon is one advertisement observed during discovery. RSSIDBm is the
// raw adapter reading; the backend buckets it before reporting.
type Beacon struct {
	Info    native.NetworkInfo
	RSSIDBm int
	SeenAt  time.Time
}

// Frame is one application datagram received from a peer.
type Frame struct {
	Data    []byte
	Channel uint8
}

// HotspotConfig describes the network a hosting platform advertises.
type HotspotConfig struct {
	Info       native.NetworkInfo
	Passphrase []byte
	Channel    uint16
}

// JoinConfig describes the hotspot a station platform associates with.
type JoinConfig struct {
	Info       native.NetworkInfo
	Passphrase []byte
	NodeName   string
}

// Platform is the hardware abstraction the radio backend drives. A
// platform may return ErrNotSupported from any method; the backend
// surfaces that as an unsupported-operation error without changing
// state.
type Platform interface {
	// Adapter reports the wireless adapter, or an error when none is
	// usable.
	Adapter() (AdapterInfo, error)

	// StartDiscovery begins collecting beacons, optionally restricted
	// to one channel (0 means all).
	StartDiscovery(ctx context.Context, channel uint16) error
	StopDiscovery() error
	// Beacons snapshots the advertisements observed since discovery
	// started.
	Beacons() ([]Beacon, error)

	// StartHotspot begins advertising a hosted network.
	StartHotspot(ctx context.Context, cfg HotspotConfig) error
	// UpdateBeacon replaces the advertise blob of a running hotspot.
	UpdateBeacon(data []byte) error
	StopHotspot() error

	// JoinHotspot associates with a discovered network.
	JoinHotspot(ctx context.Context, cfg JoinConfig) error
	LeaveHotspot() error

	// SendFrame and ReceiveFrame carry application datagrams once
	// hosting or associated.
	SendFrame(data []byte, channel uint8) error
	ReceiveFrame(ctx context.Context) (Frame, error)
}

// AdapterInfo describes a wireless adapter's capabilities.
type AdapterInfo struct {
	Name        string
	CanHost     bool
	CanDataPath bool
}
