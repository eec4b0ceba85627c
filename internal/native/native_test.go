package native

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ldnlink/internal/model"
)

func TestNetworkInfoRoundTrip(t *testing.T) {
	t.Parallel()

	d := model.NetworkDescriptor{
		Name:          "ldn-test",
		AppID:         0x0100ABCD00010000,
		Channel:       6,
		LinkLevel:     model.LinkGood,
		NodeCount:     2,
		NodeCountMax:  8,
		AdvertiseData: []byte{0xde, 0xad, 0xbe, 0xef},
		HasPassword:   true,
	}

	got := FromNetworkInfo(ToNetworkInfo(d))
	require.Equal(t, d.AppID, got.AppID)
	require.Equal(t, d.Channel, got.Channel)
	require.Equal(t, d.LinkLevel, got.LinkLevel)
	require.Equal(t, d.NodeCount, got.NodeCount)
	require.Equal(t, d.NodeCountMax, got.NodeCountMax)
	require.Equal(t, d.AdvertiseData, got.AdvertiseData)
	require.Equal(t, d.HasPassword, got.HasPassword)
	require.Equal(t, d.Name, got.Name)
}

func TestToNetworkInfo_TruncatesAdvertiseData(t *testing.T) {
	t.Parallel()

	d := model.NetworkDescriptor{
		AppID:         1,
		NodeCountMax:  8,
		AdvertiseData: bytes.Repeat([]byte{0xaa}, model.AdvertiseDataLimit+100),
	}
	n := ToNetworkInfo(d)
	if n.AdvertiseDataSize != model.AdvertiseDataLimit {
		t.Fatalf("size=%d", n.AdvertiseDataSize)
	}

	got := FromNetworkInfo(n)
	if len(got.AdvertiseData) != model.AdvertiseDataLimit {
		t.Fatalf("len=%d", len(got.AdvertiseData))
	}
}

func TestToNetworkInfo_EmptyNameLeavesSSIDUnset(t *testing.T) {
	t.Parallel()

	n := ToNetworkInfo(model.NetworkDescriptor{AppID: 1, NodeCountMax: 1})
	if n.SSID != "" {
		t.Fatalf("ssid=%q", n.SSID)
	}
}

func TestFromNetworkInfo_PasswordFromSecurityMode(t *testing.T) {
	t.Parallel()

	n := NetworkInfo{AppID: 1, NodeCountMax: 1}

	n.SecurityMode = SecurityModeOpen
	if FromNetworkInfo(n).HasPassword {
		t.Fatalf("open must not imply password")
	}
	n.SecurityMode = SecurityModeRestricted
	if !FromNetworkInfo(n).HasPassword {
		t.Fatalf("restricted must imply password")
	}
	n.SecurityMode = SecurityModeTest
	if !FromNetworkInfo(n).HasPassword {
		t.Fatalf("test must imply password")
	}
}

func TestNodeInfoRoundTrip(t *testing.T) {
	t.Parallel()

	d := model.NodeDescriptor{
		Index:     3,
		Name:      "player-one",
		MAC:       [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55},
		IPv4:      [4]byte{169, 254, 10, 3},
		Connected: true,
		Version:   4,
	}
	got := FromNodeInfo(ToNodeInfo(d))
	require.Equal(t, d, got)
}

func TestToNodeInfo_NameTruncatedWithNUL(t *testing.T) {
	t.Parallel()

	long := string(bytes.Repeat([]byte{'x'}, model.NodeNameSize*2))
	n := ToNodeInfo(model.NodeDescriptor{Name: long})
	if n.Name[model.NodeNameSize-1] != 0 {
		t.Fatalf("missing trailing NUL")
	}

	got := FromNodeInfo(n)
	if len(got.Name) != model.NodeNameSize-1 {
		t.Fatalf("len=%d", len(got.Name))
	}
}

func TestBucketRSSI(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rssi int
		want model.LinkLevel
	}{
		{-40, model.LinkExcellent},
		{-60, model.LinkGood},
		{-80, model.LinkLow},
		{-95, model.LinkBad},
		{-10, model.LinkExcellent},
		{-41, model.LinkGood},
		{-61, model.LinkLow},
		{-81, model.LinkBad},
	}
	for _, c := range cases {
		if got := BucketRSSI(c.rssi); got != c.want {
			t.Fatalf("rssi=%d got=%v want=%v", c.rssi, got, c.want)
		}
	}
}

func TestRepresentativeRSSI(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level model.LinkLevel
		want  int
	}{
		{model.LinkExcellent, -30},
		{model.LinkGood, -50},
		{model.LinkLow, -70},
		{model.LinkBad, -90},
	}
	for _, c := range cases {
		if got := RepresentativeRSSI(c.level); got != c.want {
			t.Fatalf("level=%v got=%d", c.level, got)
		}
	}
}

func TestScanResultConversion_ApproximateReverse(t *testing.T) {
	t.Parallel()

	s := model.ScanResult{
		Network: model.NetworkDescriptor{AppID: 1, NodeCountMax: 4, Name: "net"},
		RSSI:    -55,
	}
	n := ScanResultToNative(s)
	if n.LinkLevel != LinkLevelGood {
		t.Fatalf("level=%d", n.LinkLevel)
	}

	at := time.Now()
	back := ScanResultFromNative(n, at)
	// Reverse is the bucket representative, never the original reading.
	if back.RSSI != -50 {
		t.Fatalf("rssi=%d", back.RSSI)
	}
	if !back.CapturedAt.Equal(at) {
		t.Fatalf("captured_at=%v", back.CapturedAt)
	}
}

func TestValidateInternal(t *testing.T) {
	t.Parallel()

	ok := model.NetworkDescriptor{AppID: 1, NodeCount: 2, NodeCountMax: 4}
	if !ValidateInternal(ok) {
		t.Fatalf("want accept")
	}

	bad := ok
	bad.AppID = 0
	if ValidateInternal(bad) {
		t.Fatalf("zero app id accepted")
	}

	bad = ok
	bad.NodeCount = 5
	if ValidateInternal(bad) {
		t.Fatalf("count inversion accepted")
	}

	bad = ok
	bad.NodeCountMax = model.NodeCountLimit + 1
	if ValidateInternal(bad) {
		t.Fatalf("count overflow accepted")
	}

	bad = ok
	bad.AdvertiseData = make([]byte, model.AdvertiseDataLimit+1)
	if ValidateInternal(bad) {
		t.Fatalf("oversized advertise data accepted")
	}
}

func TestValidateNative(t *testing.T) {
	t.Parallel()

	n := NetworkInfo{AppID: 1, NodeCount: 1, NodeCountMax: 2}
	if !ValidateNative(n) {
		t.Fatalf("want accept")
	}
	n.AppID = 0
	if ValidateNative(n) {
		t.Fatalf("zero app id accepted")
	}
}
