// Package native holds the console-facing descriptor layouts and the
// translation layer between them and the internal model. Conversions
// are pure, total over well-formed input, and clamp rather than
// overflow on oversized fields.
package native

import (
	"bytes"
	"time"

	"ldnlink/internal/model"
)

// Security modes as the native side encodes them.
const (
	SecurityModeOpen uint8 = iota
	SecurityModeRestricted
	SecurityModeTest
)

// Link-quality levels as the native side encodes them.
const (
	LinkLevelBad uint8 = iota
	LinkLevelLow
	LinkLevelGood
	LinkLevelExcellent
)

// NetworkInfo is the native network descriptor. Fixed-size fields
// mirror the console layout; AdvertiseDataSize tells how much of
// AdvertiseData is meaningful.
type NetworkInfo struct {
	SessionID         [model.SessionIDSize]byte
	AppID             uint64
	SSID              string
	Channel           uint16
	LinkLevel         uint8
	SecurityMode      uint8
	NodeCount         uint8
	NodeCountMax      uint8
	AdvertiseDataSize uint16
	AdvertiseData     [model.AdvertiseDataLimit]byte
}

// NodeInfo is the native node descriptor. Name is NUL-terminated.
type NodeInfo struct {
	Index     uint8
	Name      [model.NodeNameSize]byte
	MAC       [6]byte
	IPv4      [4]byte
	Connected uint8
	Version   uint16
}

// ToNetworkInfo converts an internal descriptor to native form.
// Advertise data beyond the protocol ceiling is silently truncated;
// the SSID is set only when the network name is non-empty.
func ToNetworkInfo(d model.NetworkDescriptor) NetworkInfo {
	n := NetworkInfo{
		AppID:        d.AppID,
		Channel:      d.Channel,
		LinkLevel:    linkLevelToNative(d.LinkLevel),
		NodeCount:    d.NodeCount,
		NodeCountMax: d.NodeCountMax,
	}
	if d.Name != "" {
		n.SSID = d.Name
	}
	if d.HasPassword {
		n.SecurityMode = SecurityModeRestricted
	} else {
		n.SecurityMode = SecurityModeOpen
	}
	size := len(d.AdvertiseData)
	if size > model.AdvertiseDataLimit {
		size = model.AdvertiseDataLimit
	}
	copy(n.AdvertiseData[:], d.AdvertiseData[:size])
	n.AdvertiseDataSize = uint16(size)
	return n
}

// FromNetworkInfo converts a native descriptor back to internal form.
// HasPassword is derived from the security mode being anything other
// than open.
func FromNetworkInfo(n NetworkInfo) model.NetworkDescriptor {
	size := int(n.AdvertiseDataSize)
	if size > model.AdvertiseDataLimit {
		size = model.AdvertiseDataLimit
	}
	data := make([]byte, size)
	copy(data, n.AdvertiseData[:size])
	return model.NetworkDescriptor{
		Name:          n.SSID,
		AppID:         n.AppID,
		Channel:       n.Channel,
		LinkLevel:     LinkLevelFromNative(n.LinkLevel),
		NodeCount:     n.NodeCount,
		NodeCountMax:  n.NodeCountMax,
		AdvertiseData: data,
		HasPassword:   n.SecurityMode != SecurityModeOpen,
	}
}

// ToNodeInfo converts an internal node descriptor to native form.
// The name is truncated to leave room for the trailing NUL.
func ToNodeInfo(d model.NodeDescriptor) NodeInfo {
	n := NodeInfo{
		Index:   d.Index,
		MAC:     d.MAC,
		IPv4:    d.IPv4,
		Version: d.Version,
	}
	if d.Connected {
		n.Connected = 1
	}
	name := []byte(d.Name)
	if len(name) > model.NodeNameSize-1 {
		name = name[:model.NodeNameSize-1]
	}
	copy(n.Name[:], name)
	return n
}

// FromNodeInfo converts a native node descriptor back to internal form,
// scanning the name up to the first NUL or the bounded maximum.
func FromNodeInfo(n NodeInfo) model.NodeDescriptor {
	name := n.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return model.NodeDescriptor{
		Index:     n.Index,
		Name:      string(name),
		MAC:       n.MAC,
		IPv4:      n.IPv4,
		Connected: n.Connected != 0,
		Version:   n.Version,
	}
}

// ScanResultToNative folds a scan observation into native form. The
// precise RSSI is quantized to the four-level bucket; the timestamp is
// dropped. This direction is lossy on purpose.
func ScanResultToNative(s model.ScanResult) NetworkInfo {
	n := ToNetworkInfo(s.Network)
	n.LinkLevel = linkLevelToNative(BucketRSSI(s.RSSI))
	return n
}

// ScanResultFromNative reconstructs a scan observation. RSSI is the
// fixed representative value for the bucket, not the original reading.
func ScanResultFromNative(n NetworkInfo, at time.Time) model.ScanResult {
	d := FromNetworkInfo(n)
	return model.ScanResult{
		Network:    d,
		RSSI:       RepresentativeRSSI(d.LinkLevel),
		CapturedAt: at,
	}
}

// BucketRSSI quantizes a dBm-like signal strength into a link level.
func BucketRSSI(rssi int) model.LinkLevel {
	switch {
	case rssi >= -40:
		return model.LinkExcellent
	case rssi >= -60:
		return model.LinkGood
	case rssi >= -80:
		return model.LinkLow
	default:
		return model.LinkBad
	}
}

// RepresentativeRSSI returns the fixed per-bucket strength value used
// when reversing the quantization.
func RepresentativeRSSI(l model.LinkLevel) int {
	switch l {
	case model.LinkExcellent:
		return -30
	case model.LinkGood:
		return -50
	case model.LinkLow:
		return -70
	default:
		return -90
	}
}

// LinkLevelFromNative clamps a native link level into the model range.
func LinkLevelFromNative(v uint8) model.LinkLevel {
	if v > LinkLevelExcellent {
		v = LinkLevelExcellent
	}
	return model.LinkLevel(v)
}

func linkLevelToNative(l model.LinkLevel) uint8 {
	if l < model.LinkBad {
		return LinkLevelBad
	}
	if l > model.LinkExcellent {
		return LinkLevelExcellent
	}
	return uint8(l)
}

// SecurityModeFromModel maps a model security mode to the native value.
func SecurityModeFromModel(m model.SecurityMode) uint8 {
	switch m {
	case model.SecurityRestricted:
		return SecurityModeRestricted
	case model.SecurityTest:
		return SecurityModeTest
	default:
		return SecurityModeOpen
	}
}

// ValidateInternal reports whether an internal descriptor satisfies the
// protocol invariants. Callers must check it before trusting a
// descriptor; it is a guard, not an error path.
func ValidateInternal(d model.NetworkDescriptor) bool {
	if d.AppID == 0 {
		return false
	}
	if d.NodeCount > d.NodeCountMax {
		return false
	}
	if d.NodeCountMax > model.NodeCountLimit {
		return false
	}
	if len(d.AdvertiseData) > model.AdvertiseDataLimit {
		return false
	}
	return true
}

// ValidateNative reports whether a native descriptor satisfies the same
// invariants as ValidateInternal.
func ValidateNative(n NetworkInfo) bool {
	if n.AppID == 0 {
		return false
	}
	if n.NodeCount > n.NodeCountMax {
		return false
	}
	if n.NodeCountMax > model.NodeCountLimit {
		return false
	}
	if int(n.AdvertiseDataSize) > model.AdvertiseDataLimit {
		return false
	}
	return true
}
