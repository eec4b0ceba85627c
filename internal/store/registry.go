// Package store persists the room directory's session registry.
package store

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry is the on-disk snapshot of registered sessions.
type Registry struct {
	UpdatedAt time.Time     `yaml:"updated_at"`
	Sessions  []SessionInfo `yaml:"sessions"`
}

// SessionInfo is one persisted registration. Passphrases are kept so a
// restarted directory can still gate joins; the file is written 0600.
type SessionInfo struct {
	Handle         string    `yaml:"handle"`
	AppID          uint64    `yaml:"app_id"`
	SceneID        uint16    `yaml:"scene_id"`
	Name           string    `yaml:"name"`
	Channel        uint16    `yaml:"channel"`
	NodeCount      uint8     `yaml:"node_count"`
	NodeCountMax   uint8     `yaml:"node_count_max"`
	HasPassword    bool      `yaml:"has_password"`
	AdvertiseData  []byte    `yaml:"advertise_data,omitempty"`
	SessionID      string    `yaml:"session_id"`
	HostEndpoint   string    `yaml:"host_endpoint"`
	HostPublicAddr string    `yaml:"host_public_addr"`
	NATType        string    `yaml:"nat_type"`
	Version        uint16    `yaml:"version"`
	Passphrase     []byte    `yaml:"passphrase,omitempty"`
	RelayToken     uint32    `yaml:"relay_token"`
	LastSeenAt     time.Time `yaml:"last_seen_at"`
	Members        []Member  `yaml:"members,omitempty"`
}

// Member is one admitted guest. Its handle releases the slot on leave.
type Member struct {
	Handle   string    `yaml:"handle"`
	NodeName string    `yaml:"node_name,omitempty"`
	JoinedAt time.Time `yaml:"joined_at"`
}

// LoadRegistry loads the registry from disk. A missing file yields an
// empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, err
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// SaveRegistry writes the registry to disk.
func SaveRegistry(path string, reg *Registry) error {
	if reg == nil {
		return nil
	}
	reg.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
