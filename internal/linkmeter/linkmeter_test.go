package linkmeter

import (
	"testing"
	"time"

	"ldnlink/internal/model"
)

func TestLevelFromRTT(t *testing.T) {
	t.Parallel()

	var m Meter
	m.SetPath(PathDirect)

	m.Add(10 * time.Millisecond)
	if got := m.Level(); got != model.LinkExcellent {
		t.Fatalf("got=%v", got)
	}

	m.Reset()
	m.SetPath(PathDirect)
	m.Add(150 * time.Millisecond)
	if got := m.Level(); got != model.LinkLow {
		t.Fatalf("got=%v", got)
	}

	m.Reset()
	m.SetPath(PathDirect)
	m.Add(500 * time.Millisecond)
	if got := m.Level(); got != model.LinkBad {
		t.Fatalf("got=%v", got)
	}
}

func TestRelayCapsLevel(t *testing.T) {
	t.Parallel()

	var m Meter
	m.SetPath(PathRelay)
	m.Add(5 * time.Millisecond)
	if got := m.Level(); got != model.LinkGood {
		t.Fatalf("got=%v", got)
	}
}

func TestEmptyMeterUsesPath(t *testing.T) {
	t.Parallel()

	var m Meter
	if got := m.Level(); got != model.LinkExcellent {
		t.Fatalf("got=%v", got)
	}
	m.SetPath(PathRelay)
	if got := m.Level(); got != model.LinkGood {
		t.Fatalf("got=%v", got)
	}
}

func TestWindowIsBounded(t *testing.T) {
	t.Parallel()

	var m Meter
	for i := 0; i < 1000; i++ {
		m.Add(time.Second)
	}
	for i := 0; i < maxSamples; i++ {
		m.Add(time.Millisecond)
	}
	// Old slow samples must have aged out entirely.
	if got := m.AverageRTT(); got != time.Millisecond {
		t.Fatalf("avg=%v", got)
	}
}
