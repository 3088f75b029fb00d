// Package preset is the catalog of named wheel patterns. Each preset builds
// a trigger.Waveform; the configuration layer selects one by name.
package preset

import (
	"fmt"
	"sort"

	"github.com/sweeney/crank-sensor/internal/trigger"
)

// SkippedTooth builds a generic missing-tooth wheel: total tooth positions
// of which skipped are missing. Decoded on rising edges; with skipped > 0
// the rising gap across the missing teeth is (skipped+1) tooth pitches.
func SkippedTooth(mode trigger.OperationMode, total, skipped int) (*trigger.Waveform, error) {
	b := trigger.NewBuilder(mode)
	b.AddSkippedToothEvents(trigger.ChannelPrimary, total, skipped, 0.5, 0)
	b.UseOnlyRisingEdges()
	if skipped > 0 {
		b.SetSyncGap(float64(skipped + 1))
	} else {
		b.SetNoSyncNeeded()
	}
	return b.Build()
}

// SkodaFavorit is a three-window crank pattern with a narrow index notch.
// Decoded on both edges; the landmark is the long fall closing the cycle.
func SkodaFavorit() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCrank)
	m := 2.0

	b.AddEvent720(m*46, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEvent720(m*177, trigger.ChannelPrimary, trigger.EdgeFall)

	b.AddEvent720(m*180, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEvent720(m*183, trigger.ChannelPrimary, trigger.EdgeFall)

	b.AddEvent720(m*226, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEvent720(m*360, trigger.ChannelPrimary, trigger.EdgeFall)

	b.SetTDCPosition(180 - 46)
	b.SetSyncGap(3.91)
	return b.Build()
}

// FiatIAWP8 is a two-window cam pattern. Decoded on rising edges; the short
// window after the long one gives a gap ratio of 3 at the cycle start.
func FiatIAWP8() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCam)
	width := 60.0
	b.SetTDCPosition(width)

	b.AddEvent720(width, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEvent720(180, trigger.ChannelPrimary, trigger.EdgeFall)

	b.AddEvent720(180+width, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEvent720(720, trigger.ChannelPrimary, trigger.EdgeFall)

	b.UseOnlyRisingEdges()
	b.SetSyncGap(3)
	return b.Build()
}

// FordST170 is a five-lobe cam pattern with uneven lobe spacing. No single
// gap ratio is unique, so the landmark needs the second consecutive-gap
// window as well: the rise closing the back-to-back lobe pair.
func FordST170() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCam)
	width := 10.0
	total := 720.0 / 8

	for _, lobe := range []float64{1, 2, 4, 6, 8} {
		b.AddEventAngle(lobe*total-width, trigger.ChannelPrimary, trigger.EdgeRise)
		b.AddEventAngle(lobe*total, trigger.ChannelPrimary, trigger.EdgeFall)
	}

	b.SetSyncGapWindow(6, 10)
	b.SetSecondSyncGapWindow(0.1, 0.2)
	return b.Build()
}

// Daihatsu4 is a four-lobe cam pattern with one lobe pulled close to the
// cycle start. Decoded on rising edges; the landmark gap ratio is well
// below one, which is why the window sits at 0.125.
func Daihatsu4() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCam)
	width := 10.0
	cycle := trigger.ModeCam.CycleLength()

	b.SetSyncGap(0.125)

	b.AddEventAngle(30-width, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEventAngle(30, trigger.ChannelPrimary, trigger.EdgeFall)

	for _, k := range []float64{1, 2, 3} {
		b.AddEventAngle(cycle/3*k-width, trigger.ChannelPrimary, trigger.EdgeRise)
		b.AddEventAngle(cycle/3*k, trigger.ChannelPrimary, trigger.EdgeFall)
	}

	b.UseOnlyRisingEdges()
	return b.Build()
}

// VW602 is the VW variant of the 60-2 crank wheel: the missing-tooth gap
// is closed by one wide tooth, so the pattern decodes on both edges and
// the landmark window is declared explicitly rather than derived.
func VW602() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCrank)
	unit := 720.0 / 60
	width := 0.5

	for i := 0; i < 57; i++ {
		b.AddEvent720(unit*(float64(i)+1-width), trigger.ChannelPrimary, trigger.EdgeRise)
		b.AddEvent720(unit*float64(i+1), trigger.ChannelPrimary, trigger.EdgeFall)
	}
	b.AddEvent720(unit*57.5+12, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEvent720(720, trigger.ChannelPrimary, trigger.EdgeFall)

	b.SetSyncGapWindow(1.6, 4)
	return b.Build()
}

// CamOneTooth is a single-tooth cam wheel. One event pair per cycle is
// inherently unambiguous, so no landmark gap is needed.
func CamOneTooth() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCam)
	b.AddEventAngle(710, trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEventAngle(720, trigger.ChannelPrimary, trigger.EdgeFall)
	b.SetNoSyncNeeded()
	return b.Build()
}

// TriTach is a dual-track tachometer wheel: a single index slot on the
// primary track plus 135 teeth on the secondary. The dense track makes a
// gap landmark impossible, so the pattern decodes without synchronization.
func TriTach() (*trigger.Waveform, error) {
	b := trigger.NewBuilder(trigger.ModeCrank)
	b.SetNoSyncNeeded()

	toothWidth := 0.5
	totalTeeth := 135
	unit := trigger.ModeCrank.CycleLength() / float64(totalTeeth)

	b.AddEventAngle(unit*(1-toothWidth), trigger.ChannelPrimary, trigger.EdgeRise)
	b.AddEventAngle(unit, trigger.ChannelPrimary, trigger.EdgeFall)

	// Secondary teeth are shifted a tenth of a degree so the two tracks
	// never declare an edge at the same instant.
	for i := 0; i < totalTeeth; i++ {
		b.AddEventClamped(unit*(float64(i)+1-toothWidth)+0.1, trigger.ChannelSecondary, trigger.EdgeRise)
		b.AddEventClamped(unit*float64(i+1)+0.1, trigger.ChannelSecondary, trigger.EdgeFall)
	}
	return b.Build()
}

var catalog = map[string]func() (*trigger.Waveform, error){
	"60-2":          func() (*trigger.Waveform, error) { return SkippedTooth(trigger.ModeCrank, 60, 2) },
	"36-1":          func() (*trigger.Waveform, error) { return SkippedTooth(trigger.ModeCrank, 36, 1) },
	"12-0":          func() (*trigger.Waveform, error) { return SkippedTooth(trigger.ModeCrank, 12, 0) },
	"60-2-vw":       VW602,
	"skoda-favorit": SkodaFavorit,
	"fiat-iaw-p8":   FiatIAWP8,
	"ford-st170":    FordST170,
	"daihatsu-4":    Daihatsu4,
	"cam-one-tooth": CamOneTooth,
	"tri-tach":      TriTach,
}

// Build constructs the named preset waveform.
func Build(name string) (*trigger.Waveform, error) {
	fn, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown trigger preset %q", name)
	}
	return fn()
}

// Names returns the sorted catalog names.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
