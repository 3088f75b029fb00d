package trigger

import (
	"fmt"
	"math"
	"sort"
)

// angleEpsilon is the tolerance used when comparing declared event angles.
const angleEpsilon = 1e-6

// ShapeError reports an invalid pattern description. Decoding stays
// disabled until the configuration producing it is corrected.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string { return "trigger shape: " + e.Reason }

func shapeErrorf(format string, args ...any) error {
	return &ShapeError{Reason: fmt.Sprintf(format, args...)}
}

// WaveformEvent is one expected edge in a wheel pattern, at an absolute
// angle within the cycle.
type WaveformEvent struct {
	Channel ChannelID
	Edge    Edge
	Angle   float64
}

// GapWindow is an inclusive ratio window for landmark detection.
type GapWindow struct {
	From float64
	To   float64
}

// Contains reports whether the ratio falls inside the window.
func (w GapWindow) Contains(ratio float64) bool {
	return ratio >= w.From && ratio <= w.To
}

// Waveform is the immutable, precomputed description of one sensor wheel's
// expected edge pattern across one full cycle, plus derived lookup data.
// Built once by a Builder; read-only afterwards.
type Waveform struct {
	mode        OperationMode
	cycle       float64
	events      []WaveformEvent // sorted by angle
	expected    [channelCount]int
	size        int // decoded events per cycle
	gaps        []GapWindow
	needSync    bool
	risingOnly  bool
	tdcPosition float64
}

// Mode returns the declared operation mode.
func (w *Waveform) Mode() OperationMode { return w.mode }

// CycleLength returns the angular length of one cycle in degrees.
func (w *Waveform) CycleLength() float64 { return w.cycle }

// Size returns the number of decoded events expected in one full cycle.
func (w *Waveform) Size() int { return w.size }

// ExpectedCount returns the expected decoded event count for a channel
// over one full cycle.
func (w *Waveform) ExpectedCount(ch ChannelID) int { return w.expected[ch] }

// Events returns the ordered event sequence. Callers must not modify it.
func (w *Waveform) Events() []WaveformEvent { return w.events }

// SyncGaps returns the declared landmark gap windows, innermost first.
func (w *Waveform) SyncGaps() []GapWindow { return w.gaps }

// NeedsSync reports whether the pattern carries a unique landmark.
// Patterns without one synchronize on the first edge and treat index
// wrap-around as the cycle boundary.
func (w *Waveform) NeedsSync() bool { return w.needSync }

// RisingOnly reports whether falling edges are excluded from decoding.
func (w *Waveform) RisingOnly() bool { return w.risingOnly }

// TDCPosition returns the top-dead-center angle declared for the pattern.
func (w *Waveform) TDCPosition() float64 { return w.tdcPosition }

// gapsMatch applies the landmark test. The current gap ratio must fall into
// the first window; if a second window is declared the previous consecutive
// gap ratio must independently fall into it as well.
func (w *Waveform) gapsMatch(gap, prevGap float64) bool {
	if len(w.gaps) == 0 || gap < 0 {
		return false
	}
	if !w.gaps[0].Contains(gap) {
		return false
	}
	if len(w.gaps) > 1 {
		if prevGap < 0 || !w.gaps[1].Contains(prevGap) {
			return false
		}
	}
	return true
}

// Builder accumulates a declarative pattern description and produces an
// immutable Waveform. The zero value is not usable; use NewBuilder.
type Builder struct {
	mode        OperationMode
	cycle       float64
	events      []WaveformEvent
	gaps        []GapWindow
	noSync      bool
	risingOnly  bool
	tdcPosition float64
	err         error
}

// NewBuilder creates a pattern builder for the given operation mode.
func NewBuilder(mode OperationMode) *Builder {
	return &Builder{
		mode:  mode,
		cycle: mode.CycleLength(),
	}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// AddEventAngle declares an edge at an absolute angle within the cycle.
// The angle must lie in (0, cycle]; the pattern convention places the final
// event exactly at the cycle length.
func (b *Builder) AddEventAngle(angle float64, ch ChannelID, e Edge) *Builder {
	if angle <= 0 || angle > b.cycle+angleEpsilon {
		b.fail("event angle %.3f outside (0, %.0f]", angle, b.cycle)
		return b
	}
	if ch < 0 || ch >= channelCount {
		b.fail("bad channel %d", ch)
		return b
	}
	b.events = append(b.events, WaveformEvent{Channel: ch, Edge: e, Angle: angle})
	return b
}

// AddEvent720 declares an edge using 720-degree-based angles regardless of
// the operation mode; angles are scaled into the actual cycle length.
// Crank patterns in the catalog are historically written on a 720 scale.
func (b *Builder) AddEvent720(angle float64, ch ChannelID, e Edge) *Builder {
	return b.AddEventAngle(angle*b.cycle/720, ch, e)
}

// AddEventClamped declares an edge, clamping the angle into (0, cycle].
func (b *Builder) AddEventClamped(angle float64, ch ChannelID, e Edge) *Builder {
	if angle > b.cycle {
		angle = b.cycle
	}
	if angle <= 0 {
		angle = angleEpsilon
	}
	return b.AddEventAngle(angle, ch, e)
}

// AddSkippedToothEvents declares a toothed wheel with total tooth positions
// of which skipped are missing. Regular teeth occupy the start of the cycle;
// with skipped > 0 the landmark tooth sits at the cycle boundary so the
// first edge after the gap is the landmark. width is the fraction of a tooth
// pitch the tooth occupies (typically 0.5).
func (b *Builder) AddSkippedToothEvents(ch ChannelID, total, skipped int, width, offset float64) *Builder {
	if total <= 0 || skipped < 0 || skipped >= total {
		b.fail("bad tooth wheel %d-%d", total, skipped)
		return b
	}
	if width <= 0 || width >= 1 {
		b.fail("bad tooth width %.2f", width)
		return b
	}
	unit := b.cycle / float64(total)
	regular := total - skipped
	if skipped > 0 {
		// Last tooth is moved to the cycle boundary and acts as the landmark.
		regular--
	}
	for i := 0; i < regular; i++ {
		b.AddEventClamped(offset+unit*(float64(i)+1-width), ch, EdgeRise)
		b.AddEventClamped(offset+unit*float64(i+1), ch, EdgeFall)
	}
	if skipped > 0 {
		b.AddEventClamped(offset+b.cycle-unit*width, ch, EdgeRise)
		b.AddEventClamped(offset+b.cycle, ch, EdgeFall)
	}
	return b
}

// SetSyncGap declares the landmark gap ratio; the accepted window is
// derived as [0.75r, 1.25r].
func (b *Builder) SetSyncGap(ratio float64) *Builder {
	return b.SetSyncGapWindow(ratio*0.75, ratio*1.25)
}

// SetSyncGapWindow declares the landmark gap ratio window explicitly.
func (b *Builder) SetSyncGapWindow(from, to float64) *Builder {
	b.setGap(0, from, to)
	return b
}

// SetSecondSyncGapWindow declares a window for the gap preceding the
// landmark gap. When set, both windows must match independently before an
// edge is accepted as the landmark.
func (b *Builder) SetSecondSyncGapWindow(from, to float64) *Builder {
	b.setGap(1, from, to)
	return b
}

func (b *Builder) setGap(i int, from, to float64) {
	if from <= 0 || to <= 0 || from > to {
		b.fail("bad gap window [%.3f, %.3f]", from, to)
		return
	}
	for len(b.gaps) <= i {
		b.gaps = append(b.gaps, GapWindow{})
	}
	b.gaps[i] = GapWindow{From: from, To: to}
}

// SetNoSyncNeeded marks the pattern as having no unique landmark.
func (b *Builder) SetNoSyncNeeded() *Builder {
	b.noSync = true
	return b
}

// UseOnlyRisingEdges excludes falling edges from decoding.
func (b *Builder) UseOnlyRisingEdges() *Builder {
	b.risingOnly = true
	return b
}

// SetTDCPosition declares the top-dead-center angle for the pattern.
func (b *Builder) SetTDCPosition(angle float64) *Builder {
	b.tdcPosition = angle
	return b
}

// Build validates the accumulated description and produces the immutable
// waveform. A malformed description returns an error and no waveform;
// decoding must stay disabled until the configuration is corrected.
func (b *Builder) Build() (*Waveform, error) {
	if b.err != nil {
		return nil, shapeErrorf("%v", b.err)
	}
	if len(b.events) == 0 {
		return nil, shapeErrorf("no events declared")
	}

	events := make([]WaveformEvent, len(b.events))
	copy(events, b.events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Angle < events[j].Angle
	})

	// Ambiguous patterns cannot be decoded: two events on the same channel
	// at the same angle have no defined order in the edge stream.
	for i := 1; i < len(events); i++ {
		if events[i].Channel == events[i-1].Channel &&
			math.Abs(events[i].Angle-events[i-1].Angle) < angleEpsilon {
			return nil, shapeErrorf("overlapping events on %s channel at %.3f",
				events[i].Channel, events[i].Angle)
		}
	}
	if last := events[len(events)-1].Angle; math.Abs(last-b.cycle) > angleEpsilon {
		return nil, shapeErrorf("final event at %.3f, want cycle length %.0f", last, b.cycle)
	}

	w := &Waveform{
		mode:        b.mode,
		cycle:       b.cycle,
		events:      events,
		needSync:    !b.noSync,
		risingOnly:  b.risingOnly,
		tdcPosition: b.tdcPosition,
	}
	for _, ev := range events {
		if b.risingOnly && ev.Edge == EdgeFall {
			continue
		}
		w.expected[ev.Channel]++
		w.size++
	}
	if w.size == 0 {
		return nil, shapeErrorf("no decodable events (rising-only with no rising edges)")
	}

	if w.needSync {
		if len(b.gaps) == 0 {
			return nil, shapeErrorf("synchronization landmark undefined (no gap declared)")
		}
		w.gaps = make([]GapWindow, len(b.gaps))
		copy(w.gaps, b.gaps)
	}
	return w, nil
}
