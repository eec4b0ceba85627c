package model

import "time"

// Protocol ceilings. Descriptors violating these are rejected by the
// validators in internal/native before they reach a backend.
const (
	NodeCountLimit     = 8
	AdvertiseDataLimit = 384
	SessionIDSize      = 16
	NetworkNameSize    = 32
	NodeNameSize       = 32
	PassphraseLimit    = 64
)

// LinkLevel is the coarse four-level link quality reported to the guest.
type LinkLevel int

const (
	LinkBad LinkLevel = iota
	LinkLow
	LinkGood
	LinkExcellent
)

func (l LinkLevel) String() string {
	switch l {
	case LinkBad:
		return "bad"
	case LinkLow:
		return "low"
	case LinkGood:
		return "good"
	case LinkExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// SecurityMode selects how a hosted session authenticates joiners.
type SecurityMode int

const (
	SecurityOpen SecurityMode = iota
	SecurityRestricted
	SecurityTest
)

func (m SecurityMode) String() string {
	switch m {
	case SecurityOpen:
		return "open"
	case SecurityRestricted:
		return "restricted"
	case SecurityTest:
		return "test"
	default:
		return "unknown"
	}
}

// ConnectionState is the session lifecycle state. Exactly one instance
// exists per active session and it is owned by the session state machine.
type ConnectionState int

const (
	StateUninitialized ConnectionState = iota
	StateInitialized
	StateAccessPointOpen
	StateHosting
	StateStationOpen
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateAccessPointOpen:
		return "access_point_open"
	case StateHosting:
		return "hosting"
	case StateStationOpen:
		return "station_open"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why the last session ended.
type DisconnectReason int

const (
	DisconnectNone DisconnectReason = iota
	DisconnectLocalRequest
	DisconnectHostDestroyed
	DisconnectSignalLost
	DisconnectSystemFault
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectNone:
		return "none"
	case DisconnectLocalRequest:
		return "local_request"
	case DisconnectHostDestroyed:
		return "host_destroyed"
	case DisconnectSignalLost:
		return "signal_lost"
	case DisconnectSystemFault:
		return "system_fault"
	default:
		return "unknown"
	}
}

// NetworkDescriptor is the internal, backend-agnostic view of a session.
// Invariants: NodeCount <= NodeCountMax <= NodeCountLimit and
// len(AdvertiseData) <= AdvertiseDataLimit.
type NetworkDescriptor struct {
	Name          string
	AppID         uint64
	Channel       uint16
	LinkLevel     LinkLevel
	NodeCount     uint8
	NodeCountMax  uint8
	AdvertiseData []byte
	HasPassword   bool
}

// NodeDescriptor describes one member slot of a session. It is owned by
// the session the node belongs to and dropped when the node leaves.
type NodeDescriptor struct {
	Index     uint8
	Name      string
	MAC       [6]byte
	IPv4      [4]byte
	Connected bool
	Version   uint16
}

// ScanResult pairs a discovered network with the signal strength and
// capture time of the observation. RSSI is a signed dBm-like value; the
// native side only sees the four-level bucket.
type ScanResult struct {
	Network    NetworkDescriptor
	RSSI       int
	CapturedAt time.Time
}

// SessionInfo carries the parameters a freshly created session was
// minted with. SessionID is always drawn from a cryptographically
// secure source, never derived from input.
type SessionInfo struct {
	AppID      uint64
	SceneID    uint16
	Security   SecurityMode
	Passphrase []byte
	SessionID  [SessionIDSize]byte
}

// SecurityParameter is handed to the guest so it can authenticate
// against the session out of band.
type SecurityParameter struct {
	SessionID [SessionIDSize]byte
	Key       [16]byte
}
