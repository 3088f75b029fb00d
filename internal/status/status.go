// Package status provides a thread-safe status tracker for the crank-sensor
// daemon. It is designed to be read by HTTP handlers and event stream
// broadcasters.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	Preset         string
	Broker         string
	HTTPAddr       string
	HeartbeatMin   int
	StallTimeoutMs int
	NoiseFilter    bool
}

// CamStatus is the decoded state of one cam channel.
type CamStatus struct {
	Bank      int
	Cam       int
	OffsetDeg float64
	Valid     bool
	Edges     uint64
}

// Counters holds the diagnostic counters shown on the status page.
type Counters struct {
	PrimaryRise   uint64
	PrimaryFall   uint64
	SecondaryRise uint64
	SecondaryFall uint64
	NoiseRejected uint64
	DecodeErrors  uint64
	SyncLosses    uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Synchronized     bool
	EverSynchronized bool
	RPM              float64
	AngleDeg         float64
	AngleValid       bool
	Cams             []CamStatus
	Counters         Counters
	StartTime        time.Time
	Now              time.Time
	MQTTConnected    bool
	Config           Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets decoder state and counters. Called from runLoop on every tick.
func (t *Tracker) Update(synced bool, rpm, angle float64, angleValid bool, cams []CamStatus, counters Counters) {
	t.mu.Lock()
	t.snap.Synchronized = synced
	if synced {
		t.snap.EverSynchronized = true
	}
	t.snap.RPM = rpm
	t.snap.AngleDeg = angle
	t.snap.AngleValid = angleValid
	t.snap.Cams = append(t.snap.Cams[:0], cams...)
	t.snap.Counters = counters
	t.mu.Unlock()
}

// SetSynchronized flips only the sync state. Called from the listener so
// the status page reacts between run loop ticks.
func (t *Tracker) SetSynchronized(synced bool) {
	t.mu.Lock()
	t.snap.Synchronized = synced
	if synced {
		t.snap.EverSynchronized = true
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Cams = append([]CamStatus(nil), t.snap.Cams...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
