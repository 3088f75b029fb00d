//go:build linux

package acquire

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/crank-sensor/internal/trigger"
)

// eventBufferSize bounds the edge queue. A 60-2 wheel at 8000 rpm
// produces just under 8 edges per millisecond, so 1024 covers well over
// 100 ms of consumer stall.
const eventBufferSize = 1024

// RealSource reads sensor edges from actual hardware using Linux GPIO
// character device edge events.
type RealSource struct {
	chip    *gpiocdev.Chip
	lines   []*gpiocdev.Line
	events  chan Event
	dropped atomic.Uint64
}

// NewRealSource opens the chip and requests edge events on the crank
// pin, the optional secondary crank pin (pass a negative offset to skip
// it) and each configured cam pin.
func NewRealSource(chipName string, primaryPin, secondaryPin int, cams []CamPin) (*RealSource, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	s := &RealSource{
		chip:   chip,
		events: make(chan Event, eventBufferSize),
	}

	request := func(pin int, kind LineKind, bank, cam int) error {
		line, err := chip.RequestLine(pin,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(s.handler(kind, bank, cam)))
		if err != nil {
			return fmt.Errorf("request pin %d: %w", pin, err)
		}
		s.lines = append(s.lines, line)
		return nil
	}

	if err := request(primaryPin, LineCrankPrimary, 0, 0); err != nil {
		s.Close()
		return nil, err
	}
	if secondaryPin >= 0 {
		if err := request(secondaryPin, LineCrankSecondary, 0, 0); err != nil {
			s.Close()
			return nil, err
		}
	}
	for _, cp := range cams {
		if err := request(cp.Pin, LineCam, cp.Bank, cp.Cam); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// handler returns the per-line event callback. It runs on the gpiocdev
// event goroutine and must never block: when the queue is full the edge
// is dropped and counted.
func (s *RealSource) handler(kind LineKind, bank, cam int) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		edge := trigger.EdgeFall
		if evt.Type == gpiocdev.LineEventRisingEdge {
			edge = trigger.EdgeRise
		}
		// Kernel event timestamps are CLOCK_MONOTONIC since boot;
		// the decoder only needs deltas but wall time keeps the
		// published events comparable across the process.
		ev := Event{
			Kind: kind,
			Bank: bank,
			Cam:  cam,
			Edge: edge,
			Time: time.Now(),
		}
		select {
		case s.events <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Events returns the edge stream.
func (s *RealSource) Events() <-chan Event {
	return s.events
}

// Dropped reports discarded edges.
func (s *RealSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Close releases GPIO resources and closes the event channel.
func (s *RealSource) Close() error {
	var errs []error
	for _, line := range s.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.lines = nil
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, err)
		}
		s.chip = nil
	}
	close(s.events)
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
