// Package hostap is the default radio.Platform for Linux hosts: hotspot
// control through hostapd, association through wpa_supplicant, and
// discovery through iw scan dumps. Command execution goes through the
// Runner interface so everything is testable without real hardware.
//
// The adapter data path is not implemented here; sessions built on this
// platform carry application traffic over another transport.
package hostap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"ldnlink/internal/radio"
)

// Runner abstracts command execution so the platform can be unit-tested
// without touching real wireless tooling (iw/hostapd/wpa_supplicant).
type Runner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewOSRunner(stdout, stderr io.Writer) *OSRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stdout: stdout, Stderr: stderr}
}

func (r *OSRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = r.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return err
	}
	if stderr.Len() > 0 && r.Stderr != nil {
		_, _ = io.Copy(r.Stderr, &stderr)
	}
	return nil
}

func (r *OSRunner) Output(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err != nil {
		return "", errors.New(buf.String())
	}
	return strings.TrimSpace(buf.String()), nil
}

// ssidPrefix marks networks advertised by this platform. The SSID
// carries the application id so stations can filter without parsing
// information elements.
const ssidPrefix = "LDN-"

// vendorOUI tags the advertise blob inside the beacon.
const vendorOUI = "0016fe"

// Platform drives hostapd/wpa_supplicant on one wireless interface.
type Platform struct {
	run     Runner
	iface   string
	confDir string

	mu      sync.Mutex
	beacons []radio.Beacon
	hosting bool
	joined  bool
}

// New builds a platform for the given interface. An empty iface is
// resolved from `iw dev` on first use. confDir holds rendered daemon
// configs; empty uses the system temp directory.
func New(run Runner, iface, confDir string) *Platform {
	if run == nil {
		run = NewOSRunner(nil, nil)
	}
	if confDir == "" {
		confDir = filepath.Join(os.TempDir(), "ldnlink")
	}
	return &Platform{run: run, iface: iface, confDir: confDir}
}

// Adapter resolves the wireless interface and its capabilities.
func (p *Platform) Adapter() (radio.AdapterInfo, error) {
	iface, err := p.resolveIface()
	if err != nil {
		return radio.AdapterInfo{}, err
	}
	out, err := p.run.Output("iw", "list")
	if err != nil {
		return radio.AdapterInfo{}, fmt.Errorf("iw list: %w", err)
	}
	return radio.AdapterInfo{
		Name:        iface,
		CanHost:     strings.Contains(out, "* AP"),
		CanDataPath: false,
	}, nil
}

func (p *Platform) resolveIface() (string, error) {
	p.mu.Lock()
	iface := p.iface
	p.mu.Unlock()
	if iface != "" {
		return iface, nil
	}

	out, err := p.run.Output("iw", "dev")
	if err != nil {
		return "", fmt.Errorf("iw dev: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "Interface "); ok {
			p.mu.Lock()
			p.iface = name
			p.mu.Unlock()
			return name, nil
		}
	}
	return "", fmt.Errorf("no wireless interface found")
}

// StartDiscovery triggers a scan; results are collected on Beacons.
func (p *Platform) StartDiscovery(ctx context.Context, channel uint16) error {
	iface, err := p.resolveIface()
	if err != nil {
		return err
	}
	args := []string{"dev", iface, "scan", "trigger"}
	if channel != 0 {
		args = append(args, "freq", strconv.Itoa(channelToFreq(channel)))
	}
	if err := p.run.Run("iw", args...); err != nil {
		return fmt.Errorf("scan trigger: %w", err)
	}
	return nil
}

// StopDiscovery is a no-op for iw-based scans; the trigger is one-shot.
func (p *Platform) StopDiscovery() error { return nil }

// Beacons dumps and parses the latest scan results.
func (p *Platform) Beacons() ([]radio.Beacon, error) {
	iface, err := p.resolveIface()
	if err != nil {
		return nil, err
	}
	out, err := p.run.Output("iw", "dev", iface, "scan", "dump")
	if err != nil {
		return nil, fmt.Errorf("scan dump: %w", err)
	}
	beacons := ParseScanDump(out)
	p.mu.Lock()
	p.beacons = beacons
	p.mu.Unlock()
	return beacons, nil
}

// StartHotspot renders a hostapd config and starts the daemon.
func (p *Platform) StartHotspot(ctx context.Context, cfg radio.HotspotConfig) error {
	iface, err := p.resolveIface()
	if err != nil {
		return err
	}
	conf := RenderHostapd(iface, cfg)
	path := filepath.Join(p.confDir, "hostapd.conf")
	if err := writeConf(path, conf); err != nil {
		return err
	}
	if err := p.run.Run("hostapd", "-B", path); err != nil {
		return fmt.Errorf("hostapd: %w", err)
	}
	p.mu.Lock()
	p.hosting = true
	p.mu.Unlock()
	return nil
}

// UpdateBeacon swaps the vendor element of the running hotspot.
func (p *Platform) UpdateBeacon(data []byte) error {
	p.mu.Lock()
	hosting := p.hosting
	iface := p.iface
	p.mu.Unlock()
	if !hosting {
		return fmt.Errorf("hotspot not running")
	}
	if err := p.run.Run("hostapd_cli", "-i", iface, "set", "vendor_elements", VendorElement(data)); err != nil {
		return fmt.Errorf("set vendor_elements: %w", err)
	}
	if err := p.run.Run("hostapd_cli", "-i", iface, "update_beacon"); err != nil {
		return fmt.Errorf("update_beacon: %w", err)
	}
	return nil
}

// StopHotspot terminates the hostapd daemon.
func (p *Platform) StopHotspot() error {
	p.mu.Lock()
	hosting := p.hosting
	iface := p.iface
	p.hosting = false
	p.mu.Unlock()
	if !hosting {
		return nil
	}
	if err := p.run.Run("hostapd_cli", "-i", iface, "terminate"); err != nil {
		return fmt.Errorf("hostapd_cli terminate: %w", err)
	}
	return nil
}

// JoinHotspot renders a wpa_supplicant config and associates.
func (p *Platform) JoinHotspot(ctx context.Context, cfg radio.JoinConfig) error {
	iface, err := p.resolveIface()
	if err != nil {
		return err
	}
	conf := RenderSupplicant(cfg)
	path := filepath.Join(p.confDir, "wpa_supplicant.conf")
	if err := writeConf(path, conf); err != nil {
		return err
	}
	if err := p.run.Run("wpa_supplicant", "-B", "-i", iface, "-c", path); err != nil {
		return fmt.Errorf("wpa_supplicant: %w", err)
	}
	p.mu.Lock()
	p.joined = true
	p.mu.Unlock()
	return nil
}

// LeaveHotspot terminates the wpa_supplicant daemon.
func (p *Platform) LeaveHotspot() error {
	p.mu.Lock()
	joined := p.joined
	iface := p.iface
	p.joined = false
	p.mu.Unlock()
	if !joined {
		return nil
	}
	if err := p.run.Run("wpa_cli", "-i", iface, "terminate"); err != nil {
		return fmt.Errorf("wpa_cli terminate: %w", err)
	}
	return nil
}

// SendFrame is not implemented; this platform only does control plane.
func (p *Platform) SendFrame(data []byte, channel uint8) error {
	return radio.ErrNotSupported
}

// ReceiveFrame is not implemented; this platform only does control plane.
func (p *Platform) ReceiveFrame(ctx context.Context) (radio.Frame, error) {
	return radio.Frame{}, radio.ErrNotSupported
}

func writeConf(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

var _ radio.Platform = (*Platform)(nil)
