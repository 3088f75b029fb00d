package trigger

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Bank/cam dimensions. Dual-bank engines carry up to two cam sensors per
// bank; unused slots are simply never configured.
const (
	BanksCount  = 2
	CamsPerBank = 2
)

// CentralConfig carries orchestrator construction options.
type CentralConfig struct {
	// NoiseFilterEnabled gates crank edges through the plausibility filter.
	NoiseFilterEnabled bool
	// NoiseRatio is the filter's minimum period fraction; <= 0 uses
	// DefaultNoiseRatio.
	NoiseRatio float64
}

// camChannel correlates one camshaft decoder with the primary wheel.
type camChannel struct {
	dec    *Decoder
	edges  uint64
	offset float64 // crank degrees relative to the primary landmark
	syncAt time.Time
	valid  bool
}

// Central owns the primary-wheel decoder plus per-camshaft decoders,
// correlates them into one engine-phase estimate, counts hardware and
// decoding-error events and notifies the listener on synchronization state
// changes. It is the single place with visibility into all channels.
//
// The edge-delivery goroutine is the sole writer; concurrent readers take
// the same mutex only for brief multi-field snapshot reads.
type Central struct {
	mu sync.Mutex

	noise       *NoiseFilter
	filterEdges bool

	primary *Decoder
	cams    [BanksCount][CamsPerBank]*camChannel

	listener Listener

	hwEventCounters [EventTypes]uint64
	lastEventAt     time.Time
}

// NewCentral creates the orchestrator for the given primary waveform.
// A nil listener disables notifications; a nil shape disables decoding
// until Configure is called (raw edges are still counted).
func NewCentral(shape *Waveform, listener Listener, cfg CentralConfig) *Central {
	c := &Central{
		noise:       NewNoiseFilter(cfg.NoiseRatio),
		filterEdges: cfg.NoiseFilterEnabled,
		listener:    listener,
	}
	if shape != nil {
		c.primary = NewDecoder("trigger", shape)
	}
	return c
}

// Configure replaces the primary waveform and resets decode state.
// Must be serialized with edge delivery; the orchestrator mutex provides
// that, but callers are expected to reconfigure only while the engine is
// not spinning.
func (c *Central) Configure(shape *Waveform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if shape == nil {
		c.primary = nil
	} else {
		c.primary = NewDecoder("trigger", shape)
	}
	c.noise.Reset()
	c.invalidateCamsLocked()
}

// ConfigureCam installs a camshaft decoder at the given bank/cam slot.
func (c *Central) ConfigureCam(bank, cam int, shape *Waveform) error {
	if bank < 0 || bank >= BanksCount || cam < 0 || cam >= CamsPerBank {
		return fmt.Errorf("cam slot %d/%d out of range", bank, cam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if shape == nil {
		c.cams[bank][cam] = nil
		return nil
	}
	c.cams[bank][cam] = &camChannel{
		dec: NewDecoder(fmt.Sprintf("cam %d/%d", bank, cam), shape),
	}
	return nil
}

// HandleShaftSignal is the single entry point for crankshaft edges from the
// acquisition layer. Edges for a channel must arrive strictly in order.
func (c *Central) HandleShaftSignal(ch ChannelID, e Edge, t time.Time) {
	c.mu.Lock()
	et := EventTypeFor(ch, e)
	if et >= 0 && et < EventTypes {
		c.hwEventCounters[et]++
	}

	if c.filterEdges && !c.noise.Accept(et, t) {
		c.mu.Unlock()
		return
	}
	c.lastEventAt = t

	if c.primary == nil {
		c.mu.Unlock()
		return
	}
	notes := c.primary.OnEdge(ch, e, t)
	c.mu.Unlock()

	// Dispatch outside the lock: listeners may read orchestrator state.
	// Ordering is preserved because edges arrive on a single goroutine.
	c.dispatch(notes)
}

// HandleCamSignal is the entry point for camshaft/VVT edges. On a cam
// landmark the camshaft's angular offset is computed relative to the
// primary wheel's last landmark.
func (c *Central) HandleCamSignal(bank, cam int, e Edge, t time.Time) {
	if bank < 0 || bank >= BanksCount || cam < 0 || cam >= CamsPerBank {
		return
	}
	c.mu.Lock()
	cc := c.cams[bank][cam]
	if cc == nil {
		c.mu.Unlock()
		return
	}
	cc.edges++
	c.lastEventAt = t

	for _, n := range cc.dec.OnEdge(ChannelPrimary, e, t) {
		if n.Kind != NoteSynchronization {
			continue
		}
		// Correlation is only meaningful against a synchronized, spinning
		// primary wheel.
		if angle, ok := c.angleAtLocked(t); ok {
			cc.offset = angle
			cc.syncAt = t
			cc.valid = true
		} else {
			cc.valid = false
		}
	}
	c.mu.Unlock()
}

func (c *Central) dispatch(notes []Note) {
	if c.listener == nil {
		return
	}
	for _, n := range notes {
		switch n.Kind {
		case NoteSynchronization:
			c.listener.OnSynchronization(n.WasSynchronized)
		case NoteProperState:
			c.listener.OnProperState(n.Timestamp)
		case NoteDecodingError:
			c.listener.OnDecodingError()
		case NoteInvalidIndex:
			c.listener.OnInvalidIndex(n.Index)
		case NoteSynchronizationLost:
			c.listener.OnSynchronizationLost()
		}
	}
}

// angleAtLocked derives the crank angle at time t from the elapsed time
// since the last landmark and the current angular-speed estimate.
func (c *Central) angleAtLocked(t time.Time) (float64, bool) {
	if c.primary == nil || !c.primary.IsSynchronized() {
		return 0, false
	}
	cd := c.cycleDurationLocked()
	if cd <= 0 {
		return 0, false
	}
	shape := c.primary.Shape()
	elapsed := t.Sub(c.primary.LastSyncAt())
	if elapsed < 0 {
		return 0, false
	}
	angle := float64(elapsed) / float64(cd) * shape.CycleLength()
	return math.Mod(angle, shape.CycleLength()), true
}

// EngineAngle returns the current validated angular position within the
// cycle, and whether it can be trusted right now.
func (c *Central) EngineAngle(now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.angleAtLocked(now)
}

// CamOffset returns the synchronized cam offset in crank degrees and its
// validity. A stale correlation reports invalid, never a frozen value.
func (c *Central) CamOffset(bank, cam int) (float64, bool) {
	if bank < 0 || bank >= BanksCount || cam < 0 || cam >= CamsPerBank {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cc := c.cams[bank][cam]
	if cc == nil || !cc.valid {
		return 0, false
	}
	return cc.offset, true
}

// ValidateCamCounters invalidates cam correlations whose landmark is older
// than one full engine cycle. Driven by the periodic watchdog.
func (c *Central) ValidateCamCounters(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd := c.cycleDurationLocked()
	if cd <= 0 {
		return
	}
	for bank := range c.cams {
		for cam := range c.cams[bank] {
			cc := c.cams[bank][cam]
			if cc != nil && cc.valid && now.Sub(cc.syncAt) > cd {
				cc.valid = false
			}
		}
	}
}

// cycleDurationLocked estimates the duration of one full engine cycle.
// The exact landmark-to-landmark time of the last cycle is preferred; until
// one full synchronized cycle has elapsed, the short-term tooth period mean
// scaled by the pattern size is used instead.
func (c *Central) cycleDurationLocked() time.Duration {
	if c.primary == nil {
		return 0
	}
	if cd := c.primary.LastCycleDuration(); cd > 0 {
		return cd
	}
	period := c.primary.MeanPeriod()
	if period <= 0 {
		return 0
	}
	return period * time.Duration(c.primary.Shape().Size())
}

// CycleDuration returns the estimated duration of one engine cycle, or zero
// when the engine has produced no usable period history.
func (c *Central) CycleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycleDurationLocked()
}

// IsSynchronized reports whether the primary decoder is synchronized.
func (c *Central) IsSynchronized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary != nil && c.primary.IsSynchronized()
}

// HwEventCount returns the cumulative raw edge count for a hardware event
// type. Monotonically increasing until ResetCounters.
func (c *Central) HwEventCount(et EventType) uint64 {
	if et < 0 || et >= EventTypes {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hwEventCounters[et]
}

// DecodeErrorCount returns the primary decoder's cumulative error count.
func (c *Central) DecodeErrorCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return 0
	}
	return uint64(c.primary.ErrorCount())
}

// CamEdgeCount returns the raw edge count for a cam slot.
func (c *Central) CamEdgeCount(bank, cam int) uint64 {
	if bank < 0 || bank >= BanksCount || cam < 0 || cam >= CamsPerBank {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc := c.cams[bank][cam]; cc != nil {
		return cc.edges
	}
	return 0
}

// NoiseStats returns the noise filter's cumulative accept/reject counts.
func (c *Central) NoiseStats() NoiseFilterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noise.Stats()
}

// TimeSinceTriggerEvent returns the time since the last accepted edge on
// any channel. A stall watchdog compares this against roughly one cycle
// duration: the absence of edges is the only "engine stopped" signal.
func (c *Central) TimeSinceTriggerEvent(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastEventAt.IsZero() {
		return -1
	}
	return now.Sub(c.lastEventAt)
}

// EngineMovedRecently reports whether any trigger event arrived within the
// past second.
func (c *Central) EngineMovedRecently(now time.Time) bool {
	since := c.TimeSinceTriggerEvent(now)
	return since >= 0 && since < time.Second
}

// ForceDesync explicitly drops synchronization on all decoders, resets the
// noise filter history and invalidates cam correlations. Driven by the
// stall watchdog and by configuration changes.
func (c *Central) ForceDesync(t time.Time) {
	c.mu.Lock()
	var notes []Note
	if c.primary != nil {
		notes = c.primary.ForceLoss(t)
	}
	for bank := range c.cams {
		for cam := range c.cams[bank] {
			if cc := c.cams[bank][cam]; cc != nil {
				cc.dec.ForceLoss(t)
			}
		}
	}
	c.noise.Reset()
	c.invalidateCamsLocked()
	c.mu.Unlock()

	c.dispatch(notes)
}

func (c *Central) invalidateCamsLocked() {
	for bank := range c.cams {
		for cam := range c.cams[bank] {
			if cc := c.cams[bank][cam]; cc != nil {
				cc.valid = false
			}
		}
	}
}

// ResetCounters zeroes the cumulative hardware and decoding-error counters.
// Decode state is untouched.
func (c *Central) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.hwEventCounters {
		c.hwEventCounters[i] = 0
	}
	if c.primary != nil {
		c.primary.ResetDiagnostics()
	}
	for bank := range c.cams {
		for cam := range c.cams[bank] {
			if cc := c.cams[bank][cam]; cc != nil {
				cc.edges = 0
				cc.dec.ResetDiagnostics()
			}
		}
	}
	c.noise.ResetStats()
}

// RecentPeriods appends the primary decoder's retained tooth periods to dst
// for the external RPM consumer.
func (c *Central) RecentPeriods(dst []time.Duration) []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return dst
	}
	return c.primary.RecentPeriods(dst)
}

// PrimaryShape returns the configured primary waveform, or nil.
func (c *Central) PrimaryShape() *Waveform {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return nil
	}
	return c.primary.Shape()
}
