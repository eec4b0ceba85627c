package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRegistry_Missing(t *testing.T) {
	t.Parallel()

	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Sessions) != 0 {
		t.Fatalf("sessions=%d", len(reg.Sessions))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rooms.yaml")
	reg := &Registry{Sessions: []SessionInfo{{
		Handle:       "h1",
		AppID:        0x42,
		Name:         "net",
		NodeCount:    1,
		NodeCountMax: 8,
		Passphrase:   []byte("pw"),
		RelayToken:   7,
		LastSeenAt:   time.Now().UTC(),
	}}}
	if err := SaveRegistry(path, reg); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	got, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].Handle != "h1" || got.Sessions[0].AppID != 0x42 {
		t.Fatalf("got=%+v", got.Sessions)
	}
	if string(got.Sessions[0].Passphrase) != "pw" {
		t.Fatalf("passphrase lost")
	}
}
