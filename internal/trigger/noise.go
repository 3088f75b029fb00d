package trigger

import "time"

// DefaultNoiseRatio is the minimum fraction of the previous tooth period an
// edge must be separated by to be considered real. Edges closer than that
// are treated as electrical bounce.
const DefaultNoiseRatio = 0.25

// NoiseFilterStats are cumulative accept/reject counts.
type NoiseFilterStats struct {
	Accepted uint64
	Rejected uint64
}

// NoiseFilter is a per-hardware-event-type plausibility gate. It runs inside
// the edge handler with real-time deadlines: O(1), no allocation, no
// blocking. Not safe for concurrent use; the orchestrator serializes calls.
type NoiseFilter struct {
	minRatio   float64
	lastEdgeAt [EventTypes]time.Time
	period     [EventTypes]time.Duration
	prevPeriod [EventTypes]time.Duration
	stats      NoiseFilterStats
}

// NewNoiseFilter creates a filter with the given minimum period ratio.
// A ratio <= 0 falls back to DefaultNoiseRatio.
func NewNoiseFilter(minRatio float64) *NoiseFilter {
	if minRatio <= 0 {
		minRatio = DefaultNoiseRatio
	}
	return &NoiseFilter{minRatio: minRatio}
}

// Accept reports whether the edge is plausible. The first edge on a channel
// after a reset is always accepted to bootstrap the period history. On
// rejection the stored history is NOT advanced, so a burst of bounce keeps
// being judged against the last real edge.
func (f *NoiseFilter) Accept(et EventType, t time.Time) bool {
	last := f.lastEdgeAt[et]
	if last.IsZero() {
		f.lastEdgeAt[et] = t
		f.stats.Accepted++
		return true
	}

	period := t.Sub(last)
	if prev := f.period[et]; prev > 0 && float64(period) < f.minRatio*float64(prev) {
		f.stats.Rejected++
		return false
	}

	f.prevPeriod[et] = f.period[et]
	f.period[et] = period
	f.lastEdgeAt[et] = t
	f.stats.Accepted++
	return true
}

// Reset clears the accumulated signal history. Called on synchronization
// loss and on explicit reset requests. Statistics are preserved.
func (f *NoiseFilter) Reset() {
	for i := range f.lastEdgeAt {
		f.lastEdgeAt[i] = time.Time{}
		f.period[i] = 0
		f.prevPeriod[i] = 0
	}
}

// Stats returns cumulative accept/reject counts.
func (f *NoiseFilter) Stats() NoiseFilterStats { return f.stats }

// ResetStats zeroes the cumulative accept/reject counts.
func (f *NoiseFilter) ResetStats() { f.stats = NoiseFilterStats{} }
