// Package linkmeter derives the reported link-quality level from
// observed round trips. The internet backend feeds it RTT samples; the
// level it yields is what GetNetworkInfo surfaces, so relay fallback
// shows up as quality degradation rather than an interface change.
package linkmeter

import (
	"sync"
	"time"

	"ldnlink/internal/model"
)

// Path tags where a sample was measured.
type Path int

const (
	PathDirect Path = iota
	PathRelay
)

const maxSamples = 32

// Meter is a bounded window of RTT samples.
type Meter struct {
	mu      sync.Mutex
	rtts    []time.Duration
	path    Path
	hasPath bool
}

// SetPath records which transport is active. Relay caps the level at
// Good even when round trips are fast.
func (m *Meter) SetPath(p Path) {
	m.mu.Lock()
	m.path = p
	m.hasPath = true
	m.mu.Unlock()
}

// Add records one round-trip observation.
func (m *Meter) Add(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	m.mu.Lock()
	m.rtts = append(m.rtts, rtt)
	if len(m.rtts) > maxSamples {
		m.rtts = m.rtts[len(m.rtts)-maxSamples:]
	}
	m.mu.Unlock()
}

// Reset clears the window, e.g. after a reconnect.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.rtts = m.rtts[:0]
	m.hasPath = false
	m.mu.Unlock()
}

// Level maps the current window to a link level. With no samples the
// transport path alone decides.
func (m *Meter) Level() model.LinkLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	level := model.LinkExcellent
	if len(m.rtts) > 0 {
		level = levelForRTT(m.average())
	}
	if m.hasPath && m.path == PathRelay && level > model.LinkGood {
		level = model.LinkGood
	}
	return level
}

// AverageRTT reports the window mean, zero when empty.
func (m *Meter) AverageRTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.average()
}

func (m *Meter) average() time.Duration {
	if len(m.rtts) == 0 {
		return 0
	}
	var sum time.Duration
	for _, r := range m.rtts {
		sum += r
	}
	return sum / time.Duration(len(m.rtts))
}

func levelForRTT(rtt time.Duration) model.LinkLevel {
	switch {
	case rtt <= 30*time.Millisecond:
		return model.LinkExcellent
	case rtt <= 80*time.Millisecond:
		return model.LinkGood
	case rtt <= 200*time.Millisecond:
		return model.LinkLow
	default:
		return model.LinkBad
	}
}
