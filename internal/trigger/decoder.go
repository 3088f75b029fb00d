package trigger

import "time"

// periodHistory is the number of recent tooth periods retained for the
// short-term angular-speed estimate and the external RPM consumer.
const periodHistory = 8

// Decoder is the per-channel decode state machine. It consumes filtered
// edges for one wheel, tracks position within the current cycle, detects the
// landmark and validates completed cycles against the waveform.
//
// Created once per wheel; reset to NOT_SYNCHRONIZED on landmark loss or
// configuration change; mutated by every accepted edge while the engine
// spins. Not safe for concurrent use; the orchestrator serializes calls.
type Decoder struct {
	shape *Waveform
	name  string

	synced       bool
	currentIndex int
	counts       [channelCount]int

	lastEdgeAt    time.Time
	lastSyncAt    time.Time
	lastPeriod    time.Duration
	prevPeriod    time.Duration
	cycleDuration time.Duration // landmark-to-landmark time of the last full cycle
	cycles        uint32
	errorCount    uint32
	lastErrorAt   time.Time

	periods    [periodHistory]time.Duration
	periodIdx  int
	periodsLen int

	notes []Note // reused across OnEdge calls
}

// NewDecoder creates a decoder for the given waveform. The name is used by
// callers for reporting only.
func NewDecoder(name string, shape *Waveform) *Decoder {
	return &Decoder{
		name:  name,
		shape: shape,
		notes: make([]Note, 0, 4),
	}
}

// Name returns the reporting name given at construction.
func (d *Decoder) Name() string { return d.name }

// Shape returns the waveform the decoder validates against.
func (d *Decoder) Shape() *Waveform { return d.shape }

// OnEdge consumes one accepted edge. It returns the notifications produced
// by the edge; the returned slice is reused by the next call and must not be
// retained. Never allocates after the notes buffer has grown once.
func (d *Decoder) OnEdge(ch ChannelID, e Edge, t time.Time) []Note {
	if d.shape == nil {
		return nil
	}
	if d.shape.risingOnly && e == EdgeFall {
		return nil
	}
	d.notes = d.notes[:0]

	// Instantaneous period and gap ratios. Ratios are order-sensitive:
	// edges must arrive strictly in wheel order.
	gap, prevGap := -1.0, -1.0
	if !d.lastEdgeAt.IsZero() {
		period := t.Sub(d.lastEdgeAt)
		if d.lastPeriod > 0 {
			gap = float64(period) / float64(d.lastPeriod)
		}
		if d.prevPeriod > 0 && d.lastPeriod > 0 {
			prevGap = float64(d.lastPeriod) / float64(d.prevPeriod)
		}
		d.prevPeriod = d.lastPeriod
		d.lastPeriod = period
		d.recordPeriod(period)
	}
	d.lastEdgeAt = t

	var landmark bool
	if d.shape.needSync {
		landmark = d.shape.gapsMatch(gap, prevGap)
	} else {
		// Without a unique landmark the first edge synchronizes and the
		// index wrap is the cycle boundary.
		landmark = !d.synced || d.currentIndex+1 >= d.shape.size
	}

	if landmark {
		d.onLandmark(ch, t)
		return d.notes
	}

	d.counts[ch]++
	d.currentIndex++
	if d.currentIndex >= d.shape.size {
		d.note(Note{Kind: NoteInvalidIndex, Timestamp: t, Index: d.currentIndex})
		if d.synced {
			d.synced = false
			d.note(Note{Kind: NoteSynchronizationLost, Timestamp: t})
		}
		d.currentIndex = 0
		d.resetCounts()
	}
	return d.notes
}

// onLandmark handles a cycle-start edge. The landmark edge itself is the
// first event of the new cycle.
func (d *Decoder) onLandmark(ch ChannelID, t time.Time) {
	if !d.synced {
		d.synced = true
		d.note(Note{Kind: NoteSynchronization, Timestamp: t, WasSynchronized: false})
	} else {
		if d.counts == d.shape.expected {
			d.note(Note{Kind: NoteProperState, Timestamp: t})
		} else {
			d.errorCount++
			d.lastErrorAt = t
			d.note(Note{Kind: NoteDecodingError, Timestamp: t})
		}
		d.cycles++
		if !d.lastSyncAt.IsZero() {
			d.cycleDuration = t.Sub(d.lastSyncAt)
		}
		d.note(Note{Kind: NoteSynchronization, Timestamp: t, WasSynchronized: true})
	}
	d.lastSyncAt = t
	d.currentIndex = 0
	d.resetCounts()
	d.counts[ch] = 1
}

// ForceLoss explicitly desynchronizes the decoder, typically driven by a
// stall watchdog or a configuration change. Returns the notifications
// produced (empty if the decoder was not synchronized).
func (d *Decoder) ForceLoss(t time.Time) []Note {
	d.notes = d.notes[:0]
	if d.synced {
		d.synced = false
		d.note(Note{Kind: NoteSynchronizationLost, Timestamp: t})
	}
	d.currentIndex = 0
	d.resetCounts()
	return d.notes
}

// Reset returns the decoder to its initial state, dropping all history.
// Counters and statistics are cleared; use ForceLoss to desynchronize while
// preserving diagnostics.
func (d *Decoder) Reset() {
	d.synced = false
	d.currentIndex = 0
	d.resetCounts()
	d.lastEdgeAt = time.Time{}
	d.lastSyncAt = time.Time{}
	d.lastPeriod = 0
	d.prevPeriod = 0
	d.cycleDuration = 0
	d.cycles = 0
	d.errorCount = 0
	d.lastErrorAt = time.Time{}
	d.periodIdx = 0
	d.periodsLen = 0
}

// ResetDiagnostics zeroes the cumulative error counter without touching
// decode state. Driven by an explicit counter reset request.
func (d *Decoder) ResetDiagnostics() {
	d.errorCount = 0
	d.lastErrorAt = time.Time{}
}

func (d *Decoder) resetCounts() {
	for i := range d.counts {
		d.counts[i] = 0
	}
}

func (d *Decoder) note(n Note) {
	d.notes = append(d.notes, n)
}

func (d *Decoder) recordPeriod(p time.Duration) {
	d.periods[d.periodIdx] = p
	d.periodIdx = (d.periodIdx + 1) % periodHistory
	if d.periodsLen < periodHistory {
		d.periodsLen++
	}
}

// IsSynchronized reports whether the decoder currently trusts its index.
func (d *Decoder) IsSynchronized() bool { return d.synced }

// CurrentIndex returns the position within the expected event sequence.
func (d *Decoder) CurrentIndex() int { return d.currentIndex }

// CycleCount returns the number of completed, synchronized cycles.
func (d *Decoder) CycleCount() uint32 { return d.cycles }

// ErrorCount returns the cumulative decoding error count.
func (d *Decoder) ErrorCount() uint32 { return d.errorCount }

// LastErrorAt returns the timestamp of the most recent decoding error.
func (d *Decoder) LastErrorAt() time.Time { return d.lastErrorAt }

// LastEdgeAt returns the timestamp of the last accepted edge. An external
// watchdog compares this against now to detect a stopped engine: the
// absence of edges is itself the signal.
func (d *Decoder) LastEdgeAt() time.Time { return d.lastEdgeAt }

// LastSyncAt returns the timestamp of the most recent landmark.
func (d *Decoder) LastSyncAt() time.Time { return d.lastSyncAt }

// LastCycleDuration returns the landmark-to-landmark time of the last
// completed cycle, or zero if no full synchronized cycle has elapsed yet.
// This is the exact angular-speed reference; the tooth-period mean is only
// a short-term approximation biased by the landmark gap.
func (d *Decoder) LastCycleDuration() time.Duration { return d.cycleDuration }

// CountSnapshot returns the per-channel event counts of the cycle in
// progress.
func (d *Decoder) CountSnapshot() (primary, secondary int) {
	return d.counts[ChannelPrimary], d.counts[ChannelSecondary]
}

// MeanPeriod returns the short-term average tooth period, or zero when no
// history has accumulated yet.
func (d *Decoder) MeanPeriod() time.Duration {
	if d.periodsLen == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < d.periodsLen; i++ {
		sum += d.periods[i]
	}
	return sum / time.Duration(d.periodsLen)
}

// RecentPeriods appends the retained tooth periods to dst, oldest first,
// and returns the result. Used by the external RPM consumer.
func (d *Decoder) RecentPeriods(dst []time.Duration) []time.Duration {
	if d.periodsLen < periodHistory {
		return append(dst, d.periods[:d.periodsLen]...)
	}
	dst = append(dst, d.periods[d.periodIdx:]...)
	return append(dst, d.periods[:d.periodIdx]...)
}
