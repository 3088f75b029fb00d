// Package trigger contains the crank/cam trigger decoding core: the waveform
// pattern model, the noise filter, the per-channel decode state machine and
// the central orchestrator that correlates sensor channels into one
// synchronized engine-phase estimate.
//
// This package has NO external dependencies (no GPIO, MQTT, OS, or
// time.Sleep). Time is always injectable via time.Time parameters.
package trigger

import "time"

// ChannelID identifies a sensor channel within one waveform.
// Most wheels only use the primary channel; a few patterns carry a
// secondary track on the same physical wheel.
type ChannelID int

const (
	ChannelPrimary ChannelID = iota
	ChannelSecondary

	channelCount
)

func (c ChannelID) String() string {
	switch c {
	case ChannelPrimary:
		return "primary"
	case ChannelSecondary:
		return "secondary"
	}
	return "unknown"
}

// Edge is a rising or falling transition reported by a shaft sensor.
type Edge int

const (
	EdgeRise Edge = iota
	EdgeFall
)

func (e Edge) String() string {
	if e == EdgeRise {
		return "rise"
	}
	return "fall"
}

// OperationMode declares whether a waveform spans one crankshaft
// revolution (360 degrees) or one full four-stroke cycle (720 degrees,
// camshaft-synchronized).
type OperationMode int

const (
	ModeCrank OperationMode = iota
	ModeCam
)

// CycleLength returns the angular length of one pattern cycle in degrees.
func (m OperationMode) CycleLength() float64 {
	if m == ModeCam {
		return 720
	}
	return 360
}

func (m OperationMode) String() string {
	if m == ModeCam {
		return "cam"
	}
	return "crank"
}

// EventType is a hardware event type: the combination of channel and edge
// direction. Used as an index into raw edge counters and noise filter state.
type EventType int

const (
	EventPrimaryRise EventType = iota
	EventPrimaryFall
	EventSecondaryRise
	EventSecondaryFall

	EventTypes
)

// EventTypeFor maps a channel and edge direction to its hardware event type.
func EventTypeFor(ch ChannelID, e Edge) EventType {
	et := EventType(int(ch) * 2)
	if e == EdgeFall {
		et++
	}
	return et
}

func (et EventType) String() string {
	switch et {
	case EventPrimaryRise:
		return "primary_rise"
	case EventPrimaryFall:
		return "primary_fall"
	case EventSecondaryRise:
		return "secondary_rise"
	case EventSecondaryFall:
		return "secondary_fall"
	}
	return "unknown"
}

// NoteKind classifies a decoder notification.
type NoteKind int

const (
	// NoteSynchronization is emitted at every accepted landmark.
	// WasSynchronized reports whether the decoder was already in sync.
	NoteSynchronization NoteKind = iota
	// NoteProperState is emitted at a landmark that closed a cycle whose
	// event counts matched the waveform expectation.
	NoteProperState
	// NoteDecodingError is emitted at a landmark that closed a cycle with a
	// count mismatch. Non-fatal: the decoder stays synchronized.
	NoteDecodingError
	// NoteInvalidIndex is emitted when the sequence index runs past the
	// waveform size without hitting a landmark.
	NoteInvalidIndex
	// NoteSynchronizationLost is emitted when synchronization is lost,
	// either after an invalid index or by explicit request.
	NoteSynchronizationLost
)

func (k NoteKind) String() string {
	switch k {
	case NoteSynchronization:
		return "SYNCHRONIZATION"
	case NoteProperState:
		return "PROPER_STATE"
	case NoteDecodingError:
		return "DECODING_ERROR"
	case NoteInvalidIndex:
		return "INVALID_INDEX"
	case NoteSynchronizationLost:
		return "SYNC_LOST"
	}
	return "UNKNOWN"
}

// Note is a single decoder notification. Notes are returned from OnEdge as a
// slice that is reused across calls; callers must not retain it.
type Note struct {
	Kind            NoteKind
	Timestamp       time.Time
	WasSynchronized bool // NoteSynchronization only
	Index           int  // NoteInvalidIndex only
}

// Listener receives orchestrator notifications about primary-wheel
// synchronization state. Callbacks run on the edge-delivery goroutine and
// must return promptly.
type Listener interface {
	OnProperState(t time.Time)
	OnSynchronizationLost()
	OnInvalidIndex(currentIndex int)
	OnDecodingError()
	OnSynchronization(wasSynchronized bool)
}
