package acquire

import "sync/atomic"

// FakeSource is a test double that delivers scripted edges.
type FakeSource struct {
	events  chan Event
	dropped atomic.Uint64
	closed  atomic.Bool
}

// NewFakeSource creates a FakeSource with room for size queued edges.
func NewFakeSource(size int) *FakeSource {
	return &FakeSource{events: make(chan Event, size)}
}

// Emit queues one edge. Edges emitted after Close are discarded.
func (f *FakeSource) Emit(ev Event) {
	if f.closed.Load() {
		return
	}
	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Events returns the edge stream.
func (f *FakeSource) Events() <-chan Event {
	return f.events
}

// Dropped reports discarded edges.
func (f *FakeSource) Dropped() uint64 {
	return f.dropped.Load()
}

// Close closes the event channel. Safe to call once.
func (f *FakeSource) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.events)
	}
	return nil
}
