package trigger

import (
	"testing"
	"time"
)

const pitch = time.Millisecond // one tooth pitch at a steady test speed

// pulses602 returns rising-edge timestamps for a 60-2 wheel: 58 uniformly
// spaced pulses per cycle, then a gap of two missing-tooth widths (the
// pulse after the gap is three pitches out).
func pulses602(start time.Time, cycles int) []time.Time {
	ts := []time.Time{start}
	t := start
	for c := 0; c < cycles; c++ {
		for i := 0; i < 57; i++ {
			t = t.Add(pitch)
			ts = append(ts, t)
		}
		t = t.Add(3 * pitch)
		ts = append(ts, t)
	}
	return ts
}

func feedRises(d *Decoder, ts []time.Time) []Note {
	var all []Note
	for _, t := range ts {
		all = append(all, d.OnEdge(ChannelPrimary, EdgeRise, t)...)
	}
	return all
}

func countNotes(notes []Note, kind NoteKind) int {
	n := 0
	for _, note := range notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

func TestDecoderSynchronizesOnFirstLandmark(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if d.IsSynchronized() {
		t.Fatal("new decoder should not be synchronized")
	}

	// One cycle's worth of pulses: uniform teeth, then the gap pulse.
	notes := feedRises(d, pulses602(start, 1))

	if !d.IsSynchronized() {
		t.Fatal("decoder should synchronize at the first landmark")
	}
	if got := countNotes(notes, NoteSynchronization); got != 1 {
		t.Errorf("expected 1 synchronization note, got %d", got)
	}
	for _, n := range notes {
		if n.Kind == NoteSynchronization && n.WasSynchronized {
			t.Error("first synchronization should report wasSynchronized=false")
		}
	}
	if got := countNotes(notes, NoteDecodingError); got != 0 {
		t.Errorf("expected no decoding errors before first sync, got %d", got)
	}
	// The landmark edge opens the new cycle as its first event.
	if d.CurrentIndex() != 0 {
		t.Errorf("expected index 0 at the landmark, got %d", d.CurrentIndex())
	}
	if p, _ := d.CountSnapshot(); p != 1 {
		t.Errorf("expected primary count 1 after landmark, got %d", p)
	}
}

func TestDecoderThreeCleanCycles(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	notes := feedRises(d, pulses602(start, 3))

	if !d.IsSynchronized() {
		t.Fatal("decoder should stay synchronized through clean cycles")
	}
	if d.ErrorCount() != 0 {
		t.Errorf("expected zero decoding errors, got %d", d.ErrorCount())
	}
	// Sync at the end of cycle 1, then two validated cycles.
	if d.CycleCount() != 2 {
		t.Errorf("expected 2 completed cycles, got %d", d.CycleCount())
	}
	if got := countNotes(notes, NoteProperState); got != 2 {
		t.Errorf("expected 2 proper-state notes, got %d", got)
	}
	if got := countNotes(notes, NoteSynchronizationLost); got != 0 {
		t.Errorf("expected no sync loss, got %d", got)
	}
}

func TestDecoderSynchronizesFromGarbageState(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Garbage: irregular pulses that never match the landmark window.
	tm := start
	for _, gap := range []time.Duration{pitch, pitch * 2, pitch, pitch * 2, pitch} {
		tm = tm.Add(gap)
		d.OnEdge(ChannelPrimary, EdgeRise, tm)
	}

	// A full clean cycle follows; the decoder must come up synchronized
	// with counters reset regardless of the garbage prefix.
	notes := feedRises(d, pulses602(tm.Add(pitch), 2)[1:])
	if !d.IsSynchronized() {
		t.Fatal("decoder should synchronize after a valid landmark")
	}
	if got := countNotes(notes, NoteDecodingError); got != 0 {
		t.Errorf("expected no decoding errors after resync, got %d", got)
	}
}

func TestDecoderMissingToothCausesOneError(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Cycle 1 synchronizes.
	ts := pulses602(start, 1)
	feedRises(d, ts)
	last := ts[len(ts)-1]

	// Cycle 2 drops one tooth mid-cycle: one interval is doubled, so the
	// pulse count is 57 instead of 58. The doubled gap (ratio 2) must not
	// look like the landmark (window 2.25..3.75).
	tm := last
	var cycle []time.Time
	for i := 0; i < 56; i++ {
		step := pitch
		if i == 30 {
			step = 2 * pitch
		}
		tm = tm.Add(step)
		cycle = append(cycle, tm)
	}
	tm = tm.Add(3 * pitch)
	cycle = append(cycle, tm)
	notes := feedRises(d, cycle)

	if got := countNotes(notes, NoteDecodingError); got != 1 {
		t.Errorf("expected exactly one decoding error, got %d", got)
	}
	if !d.IsSynchronized() {
		t.Error("count mismatch alone must not desynchronize")
	}
	if d.ErrorCount() != 1 {
		t.Errorf("expected error counter 1, got %d", d.ErrorCount())
	}
	if d.LastErrorAt() != tm {
		t.Errorf("expected last error at %v, got %v", tm, d.LastErrorAt())
	}

	// Cycle 3 is clean again: no further errors.
	notes = feedRises(d, pulses602(tm, 1)[1:])
	if got := countNotes(notes, NoteDecodingError); got != 0 {
		t.Errorf("expected no errors in the clean cycle, got %d", got)
	}
	if got := countNotes(notes, NoteProperState); got != 1 {
		t.Errorf("expected one proper-state note, got %d", got)
	}
}

func TestDecoderConsecutiveLandmarks(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ts := pulses602(start, 1)
	feedRises(d, ts)
	if !d.IsSynchronized() {
		t.Fatal("setup: decoder should be synchronized")
	}
	last := ts[len(ts)-1]

	// A second edge whose gap ratio also falls in the landmark window
	// (previous period was 3 pitches, this one is 9).
	notes := d.OnEdge(ChannelPrimary, EdgeRise, last.Add(9*pitch))

	if !d.IsSynchronized() {
		t.Error("decoder must stay synchronized through a repeated landmark")
	}
	if got := countNotes(notes, NoteSynchronization); got != 1 {
		t.Errorf("expected the repeated landmark to be a normal cycle end, got %d sync notes", got)
	}
	for _, n := range notes {
		if n.Kind == NoteSynchronization && !n.WasSynchronized {
			t.Error("repeated landmark should report wasSynchronized=true")
		}
	}
	// The aborted cycle had only the landmark event, so validation flags it.
	if got := countNotes(notes, NoteDecodingError); got != 1 {
		t.Errorf("expected one decoding error for the aborted cycle, got %d", got)
	}
}

func TestDecoderInvalidIndexForcesLoss(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ts := pulses602(start, 1)
	feedRises(d, ts)
	if !d.IsSynchronized() {
		t.Fatal("setup: decoder should be synchronized")
	}

	// Uniform pulses with no gap: the index runs past the pattern size.
	tm := ts[len(ts)-1]
	var all []Note
	for i := 0; i < 60; i++ {
		tm = tm.Add(pitch)
		all = append(all, d.OnEdge(ChannelPrimary, EdgeRise, tm)...)
	}

	if got := countNotes(all, NoteInvalidIndex); got == 0 {
		t.Error("expected an invalid-index note")
	}
	if got := countNotes(all, NoteSynchronizationLost); got != 1 {
		t.Errorf("expected exactly one sync loss, got %d", got)
	}
	if d.IsSynchronized() {
		t.Error("invalid index while synchronized must force loss")
	}
}

func TestDecoderRisingOnlyIgnoresFalls(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if notes := d.OnEdge(ChannelPrimary, EdgeFall, start); len(notes) != 0 {
		t.Errorf("falling edge should produce no notes, got %d", len(notes))
	}
	if !d.LastEdgeAt().IsZero() {
		t.Error("ignored fall must not update the edge timestamp")
	}
	if p, s := d.CountSnapshot(); p != 0 || s != 0 {
		t.Errorf("ignored fall must not count, got %d/%d", p, s)
	}
}

func TestDecoderNoSyncShape(t *testing.T) {
	b := NewBuilder(ModeCrank)
	b.AddSkippedToothEvents(ChannelPrimary, 12, 0, 0.5, 0)
	b.UseOnlyRisingEdges()
	b.SetNoSyncNeeded()
	w, err := b.Build()
	if err != nil {
		t.Fatalf("build 12-0: %v", err)
	}
	d := NewDecoder("trigger", w)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Without a landmark the first edge synchronizes immediately.
	notes := d.OnEdge(ChannelPrimary, EdgeRise, start)
	if !d.IsSynchronized() {
		t.Fatal("no-sync shape should synchronize on the first edge")
	}
	if got := countNotes(notes, NoteSynchronization); got != 1 {
		t.Errorf("expected one sync note, got %d", got)
	}

	// Two full revolutions of 12 uniform teeth validate cleanly.
	tm := start
	var all []Note
	for i := 0; i < 24; i++ {
		tm = tm.Add(pitch)
		all = append(all, d.OnEdge(ChannelPrimary, EdgeRise, tm)...)
	}
	if d.ErrorCount() != 0 {
		t.Errorf("expected no errors, got %d", d.ErrorCount())
	}
	if got := countNotes(all, NoteProperState); got != 2 {
		t.Errorf("expected 2 proper-state notes, got %d", got)
	}
}

func TestDecoderForceLoss(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	feedRises(d, pulses602(start, 1))
	if !d.IsSynchronized() {
		t.Fatal("setup: decoder should be synchronized")
	}

	notes := d.ForceLoss(start.Add(time.Second))
	if d.IsSynchronized() {
		t.Error("ForceLoss should desynchronize")
	}
	if got := countNotes(notes, NoteSynchronizationLost); got != 1 {
		t.Errorf("expected one sync-loss note, got %d", got)
	}

	// Idempotent: a second ForceLoss reports nothing.
	if notes := d.ForceLoss(start.Add(2 * time.Second)); len(notes) != 0 {
		t.Errorf("expected no notes from repeated ForceLoss, got %d", len(notes))
	}
}

func TestDecoderMeanPeriod(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tm := start
	for i := 0; i < 10; i++ {
		tm = tm.Add(pitch)
		d.OnEdge(ChannelPrimary, EdgeRise, tm)
	}
	if got := d.MeanPeriod(); got != pitch {
		t.Errorf("expected mean period %v, got %v", pitch, got)
	}

	periods := d.RecentPeriods(nil)
	if len(periods) != periodHistory {
		t.Fatalf("expected %d retained periods, got %d", periodHistory, len(periods))
	}
	for _, p := range periods {
		if p != pitch {
			t.Errorf("expected period %v, got %v", pitch, p)
		}
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder("trigger", buildSkipped60_2(t))
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	feedRises(d, pulses602(start, 2))
	d.Reset()

	if d.IsSynchronized() {
		t.Error("reset decoder should not be synchronized")
	}
	if d.CurrentIndex() != 0 || d.CycleCount() != 0 || d.ErrorCount() != 0 {
		t.Error("reset should clear all state")
	}
	if !d.LastEdgeAt().IsZero() {
		t.Error("reset should clear the edge timestamp")
	}
	if d.MeanPeriod() != 0 {
		t.Error("reset should clear period history")
	}
}
