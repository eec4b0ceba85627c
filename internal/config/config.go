// Package config holds process configuration for the room directory
// and the emulation client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ldnlink/internal/ldnerr"
	"ldnlink/internal/reconnect"
)

const (
	DefaultConnectTimeoutSec = 10
	DefaultHeartbeatSec      = 10
	DefaultMessageTimeoutSec = 5
	DefaultMaxAttempts       = 5
	DefaultBaseDelayMs       = 100
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 5000
	DefaultMaxConcurrent     = 8
	DefaultQueueSize         = 64
	DefaultRelayRateBps      = 10 << 20
	DefaultRelayBurstBytes   = 10 << 20
	DefaultSessionTTLSec     = 30
)

// DefaultSTUNServers are used when the client config names none.
var DefaultSTUNServers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}

// Config holds both room-directory and client settings.
type Config struct {
	Room   *RoomConfig   `yaml:"room,omitempty"`
	Client *ClientConfig `yaml:"client,omitempty"`
}

// RoomConfig is used by the room directory process.
type RoomConfig struct {
	Listen        string `yaml:"listen"`
	DataDir       string `yaml:"data_dir"`
	AuthToken     string `yaml:"auth_token"`
	SessionTTLSec int    `yaml:"session_ttl_sec"`
	RelayURL      string `yaml:"relay_url"`
}

// ClientConfig is used by the emulation client process.
type ClientConfig struct {
	RoomURL     string   `yaml:"room_url"`
	AuthToken   string   `yaml:"auth_token"`
	NodeName    string   `yaml:"node_name"`
	STUNServers []string `yaml:"stun_servers"`
	LinkPort    int      `yaml:"link_port"`

	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	HeartbeatSec      int `yaml:"heartbeat_sec"`
	MessageTimeoutSec int `yaml:"message_timeout_sec"`

	AutoReconnect     bool            `yaml:"auto_reconnect"`
	MaxAttempts       int             `yaml:"max_attempts"`
	BaseDelayMs       int             `yaml:"base_delay_ms"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier"`
	MaxDelayMs        int             `yaml:"max_delay_ms"`
	RetryKinds        map[string]bool `yaml:"retry_kinds,omitempty"`

	MaxConcurrentMessages int `yaml:"max_concurrent_messages"`
	MessageQueueSize      int `yaml:"message_queue_size"`

	RelayRateBytesPerSec int64 `yaml:"relay_rate_bytes_per_sec"`
	RelayBurstBytes      int64 `yaml:"relay_burst_bytes"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Room == nil && cfg.Client == nil {
		return fmt.Errorf("config must contain room or client section")
	}
	if cfg.Room != nil && cfg.Room.Listen == "" {
		return fmt.Errorf("room.listen is required")
	}
	if cfg.Client != nil {
		if cfg.Client.RoomURL == "" {
			return fmt.Errorf("client.room_url is required")
		}
		for kind := range cfg.Client.RetryKinds {
			if _, ok := ldnerr.ParseKind(kind); !ok {
				return fmt.Errorf("client.retry_kinds: unknown kind %q", kind)
			}
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Room != nil {
		if cfg.Room.SessionTTLSec == 0 {
			cfg.Room.SessionTTLSec = DefaultSessionTTLSec
		}
	}
	if cfg.Client == nil {
		return
	}
	c := cfg.Client
	if len(c.STUNServers) == 0 {
		c.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}
	if c.ConnectTimeoutSec == 0 {
		c.ConnectTimeoutSec = DefaultConnectTimeoutSec
	}
	if c.HeartbeatSec == 0 {
		c.HeartbeatSec = DefaultHeartbeatSec
	}
	if c.MessageTimeoutSec == 0 {
		c.MessageTimeoutSec = DefaultMessageTimeoutSec
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelayMs == 0 {
		c.BaseDelayMs = DefaultBaseDelayMs
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.MaxDelayMs == 0 {
		c.MaxDelayMs = DefaultMaxDelayMs
	}
	if c.MaxConcurrentMessages == 0 {
		c.MaxConcurrentMessages = DefaultMaxConcurrent
	}
	if c.MessageQueueSize == 0 {
		c.MessageQueueSize = DefaultQueueSize
	}
	if c.RelayRateBytesPerSec == 0 {
		c.RelayRateBytesPerSec = DefaultRelayRateBps
	}
	if c.RelayBurstBytes == 0 {
		c.RelayBurstBytes = DefaultRelayBurstBytes
	}
}

// ReconnectPolicy builds the reconnect policy from the client knobs.
func (c *ClientConfig) ReconnectPolicy() reconnect.Policy {
	p := reconnect.Policy{
		Enabled:     c.AutoReconnect,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BaseDelayMs) * time.Millisecond,
		Multiplier:  c.BackoffMultiplier,
		MaxDelay:    time.Duration(c.MaxDelayMs) * time.Millisecond,
	}
	if len(c.RetryKinds) > 0 {
		p.RetryableKinds = make(map[ldnerr.Kind]bool, len(c.RetryKinds))
		for name, ok := range c.RetryKinds {
			if kind, known := ldnerr.ParseKind(name); known {
				p.RetryableKinds[kind] = ok
			}
		}
	}
	return p
}

// ConnectTimeout is the bounded window for connect and punch attempts.
func (c *ClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// MessageTimeout bounds individual send/receive waits.
func (c *ClientConfig) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSec) * time.Second
}

// Heartbeat is the keepalive cadence toward the room directory.
func (c *ClientConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}
