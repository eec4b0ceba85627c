package hostap

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ldnlink/internal/model"
	"ldnlink/internal/native"
	"ldnlink/internal/radio"
)

// EncodeSSID folds the application id into the advertised SSID so
// stations can match sessions from the scan list alone.
func EncodeSSID(appID uint64, name string) string {
	return fmt.Sprintf("%s%016X-%s", ssidPrefix, appID, name)
}

// DecodeSSID reverses EncodeSSID. ok is false for foreign networks.
func DecodeSSID(ssid string) (appID uint64, name string, ok bool) {
	rest, found := strings.CutPrefix(ssid, ssidPrefix)
	if !found || len(rest) < 17 || rest[16] != '-' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(rest[:16], 16, 64)
	if err != nil || id == 0 {
		return 0, "", false
	}
	return id, rest[17:], true
}

// VendorElement renders the advertise blob as a hostapd vendor_elements
// value: one vendor-specific IE tagged with our OUI.
func VendorElement(data []byte) string {
	body := vendorOUI + hex.EncodeToString(data)
	return fmt.Sprintf("dd%02x%s", len(body)/2, body)
}

// RenderHostapd renders a hostapd config for a hosted network.
func RenderHostapd(iface string, cfg radio.HotspotConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", iface)
	fmt.Fprintf(&b, "ssid=%s\n", EncodeSSID(cfg.Info.AppID, cfg.Info.SSID))
	if cfg.Channel > 14 {
		b.WriteString("hw_mode=a\n")
	} else {
		b.WriteString("hw_mode=g\n")
	}
	fmt.Fprintf(&b, "channel=%d\n", cfg.Channel)
	fmt.Fprintf(&b, "max_num_sta=%d\n", cfg.Info.NodeCountMax)
	if len(cfg.Passphrase) > 0 {
		b.WriteString("wpa=2\n")
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", cfg.Passphrase)
	}
	size := int(cfg.Info.AdvertiseDataSize)
	if size > 0 {
		fmt.Fprintf(&b, "vendor_elements=%s\n", VendorElement(cfg.Info.AdvertiseData[:size]))
	}
	return b.String()
}

// RenderSupplicant renders a wpa_supplicant config for joining.
func RenderSupplicant(cfg radio.JoinConfig) string {
	var b strings.Builder
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=\"%s\"\n", EncodeSSID(cfg.Info.AppID, cfg.Info.SSID))
	if len(cfg.Passphrase) > 0 {
		fmt.Fprintf(&b, "\tpsk=\"%s\"\n", cfg.Passphrase)
	} else {
		b.WriteString("\tkey_mgmt=NONE\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// ParseScanDump extracts session beacons from `iw dev <if> scan dump`
// output. Networks without our SSID encoding are skipped.
func ParseScanDump(out string) []radio.Beacon {
	var (
		beacons []radio.Beacon
		cur     *radio.Beacon
		now     = time.Now()
	)
	flush := func() {
		if cur != nil && native.ValidateNative(cur.Info) {
			beacons = append(beacons, *cur)
		}
		cur = nil
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(raw, "BSS "):
			flush()
			cur = &radio.Beacon{SeenAt: now}
			cur.Info.NodeCount = 1
			cur.Info.NodeCountMax = model.NodeCountLimit
		case cur == nil:
			// Header noise before the first BSS block.
		case strings.HasPrefix(line, "freq:"):
			if f, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "freq:"))); err == nil {
				cur.Info.Channel = freqToChannel(f)
			}
		case strings.HasPrefix(line, "signal:"):
			val := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "signal:")), " dBm")
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				cur.RSSIDBm = int(f)
			}
		case strings.HasPrefix(line, "SSID:"):
			ssid := strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
			if appID, name, ok := DecodeSSID(ssid); ok {
				cur.Info.AppID = appID
				cur.Info.SSID = name
			}
		case strings.HasPrefix(line, "RSN:"):
			cur.Info.SecurityMode = native.SecurityModeRestricted
		case strings.HasPrefix(line, "Vendor specific:"):
			if data, ok := parseVendorLine(line); ok {
				n := copy(cur.Info.AdvertiseData[:], data)
				cur.Info.AdvertiseDataSize = uint16(n)
			}
		}
	}
	flush()
	return beacons
}

// parseVendorLine handles the iw rendering of our vendor IE, e.g.
// "Vendor specific: OUI 00:16:fe, data: 01 02 03".
func parseVendorLine(line string) ([]byte, bool) {
	rest, found := strings.CutPrefix(line, "Vendor specific:")
	if !found {
		return nil, false
	}
	rest = strings.TrimSpace(rest)
	oui := vendorOUI[:2] + ":" + vendorOUI[2:4] + ":" + vendorOUI[4:]
	if !strings.HasPrefix(rest, "OUI "+oui) {
		return nil, false
	}
	idx := strings.Index(rest, "data:")
	if idx < 0 {
		return nil, false
	}
	var data []byte
	for _, tok := range strings.Fields(rest[idx+len("data:"):]) {
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, false
		}
		data = append(data, byte(b))
	}
	return data, true
}

func channelToFreq(ch uint16) int {
	switch {
	case ch == 14:
		return 2484
	case ch <= 13:
		return 2407 + 5*int(ch)
	default:
		return 5000 + 5*int(ch)
	}
}

func freqToChannel(freq int) uint16 {
	switch {
	case freq == 2484:
		return 14
	case freq < 2484:
		return uint16((freq - 2407) / 5)
	default:
		return uint16((freq - 5000) / 5)
	}
}
