package api

import "time"

// SessionRecord is a hosted session as the room directory sees it.
// AdvertiseData rides as base64 in JSON.
type SessionRecord struct {
	Handle         string    `json:"handle,omitempty"`
	AppID          uint64    `json:"app_id"`
	SceneID        uint16    `json:"scene_id"`
	Name           string    `json:"name"`
	Channel        uint16    `json:"channel"`
	NodeCount      uint8     `json:"node_count"`
	NodeCountMax   uint8     `json:"node_count_max"`
	HasPassword    bool      `json:"has_password"`
	AdvertiseData  []byte    `json:"advertise_data,omitempty"`
	SessionID      string    `json:"session_id"`
	HostEndpoint   string    `json:"host_endpoint"`
	HostPublicAddr string    `json:"host_public_addr"`
	NATType        string    `json:"nat_type"`
	Version        uint16    `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RegisterRequest publishes a hosted session.
type RegisterRequest struct {
	Record     SessionRecord `json:"record"`
	Passphrase []byte        `json:"passphrase,omitempty"`
	Version    uint16        `json:"version"`
}

// RegisterResponse returns the host's handle and relay parameters.
type RegisterResponse struct {
	Handle     string `json:"handle"`
	RelayToken uint32 `json:"relay_token"`
	RelayURL   string `json:"relay_url"`
}

// KeepaliveRequest refreshes a registration and its mutable fields.
// The node count is not among them: the directory derives it from the
// members it has admitted.
type KeepaliveRequest struct {
	Handle        string `json:"handle"`
	AdvertiseData []byte `json:"advertise_data,omitempty"`
}

// KeepaliveResponse reflects membership changes back to the host.
type KeepaliveResponse struct {
	NodeCount uint8 `json:"node_count"`
}

// UnregisterRequest withdraws a hosted session.
type UnregisterRequest struct {
	Handle string `json:"handle"`
}

// ScanResponse lists sessions matching a scan filter.
type ScanResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}

// JoinRequest asks to join a session by handle.
type JoinRequest struct {
	Handle     string `json:"handle"`
	Passphrase []byte `json:"passphrase,omitempty"`
	Version    uint16 `json:"version"`
	NodeName   string `json:"node_name"`
}

// JoinResponse carries what the joiner needs to reach the host. The
// member handle identifies this admission; leaving with it releases
// the slot.
type JoinResponse struct {
	Record         SessionRecord `json:"record"`
	RelayToken     uint32        `json:"relay_token"`
	RelayURL       string        `json:"relay_url"`
	HostEndpoint   string        `json:"host_endpoint"`
	HostPublicAddr string        `json:"host_public_addr"`
	SlotIndex      uint8         `json:"slot_index"`
	MemberHandle   string        `json:"member_handle"`
}

// LeaveRequest releases a joined slot.
type LeaveRequest struct {
	Handle       string `json:"handle"`
	MemberHandle string `json:"member_handle"`
}
