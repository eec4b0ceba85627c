// Package backend defines the capability set both transports implement.
// The session state machine holds exactly one Backend and must not
// assume either implementation's internals.
package backend

import (
	"context"

	"ldnlink/internal/ldnerr"
	"ldnlink/internal/model"
)

// CreateConfig parameterizes a hosted network.
type CreateConfig struct {
	Name          string
	AppID         uint64
	SceneID       uint16
	Channel       uint16
	NodeCountMax  uint8
	Security      model.SecurityMode
	Passphrase    []byte
	AdvertiseData []byte
	NodeName      string
}

// JoinParams parameterizes joining a discovered network.
type JoinParams struct {
	NodeName   string
	Passphrase []byte
	Version    uint16
}

// ScanFilter narrows a discovery pass. Zero values match everything.
type ScanFilter struct {
	AppID   uint64
	Name    string
	Channel uint16
}

// Backend is the transport capability set. Operations a backend cannot
// serve fail with an unsupported error rather than silently succeeding;
// callers branch on that to pick fallback behavior. Blocking operations
// take a context and respect its deadline.
type Backend interface {
	OpenAccessPoint(ctx context.Context) error
	CloseAccessPoint(ctx context.Context) error
	OpenStation(ctx context.Context) error
	CloseStation(ctx context.Context) error

	CreateNetwork(ctx context.Context, cfg CreateConfig) error
	DestroyNetwork(ctx context.Context) error
	Connect(ctx context.Context, params JoinParams, target model.ScanResult) error
	Disconnect(ctx context.Context) error

	Scan(ctx context.Context, filter ScanFilter) ([]model.ScanResult, error)
	GetNetworkInfo() (model.NetworkDescriptor, error)
	GetState() model.ConnectionState

	SendPacket(ctx context.Context, data []byte, channel uint8) error
	ReceivePacket(ctx context.Context) ([]byte, uint8, error)
	SetAdvertiseData(data []byte) error

	GetSecurityParameter() (model.SecurityParameter, error)
	GetDisconnectReason() (model.DisconnectReason, error)
}

// ErrUnsupported builds the distinct error a backend returns for a
// capability it lacks.
func ErrUnsupported(op string) error {
	return ldnerr.New(ldnerr.KindUnsupported, op)
}
