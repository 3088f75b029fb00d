// Package acquire delivers timestamped shaft sensor edges with hardware
// abstraction. The real implementation uses Linux GPIO character device
// edge events. The fake implementation allows testing without hardware.
package acquire

import (
	"time"

	"github.com/sweeney/crank-sensor/internal/trigger"
)

// LineKind identifies which sensor a GPIO line carries.
type LineKind int

const (
	LineCrankPrimary LineKind = iota
	LineCrankSecondary
	LineCam
)

// Event is a single sensor edge.
type Event struct {
	Kind LineKind
	// Bank and Cam locate the decoder slot for LineCam events.
	Bank int
	Cam  int
	Edge trigger.Edge
	Time time.Time
}

// CamPin maps a cam decoder slot to a GPIO offset.
type CamPin struct {
	Bank int
	Cam  int
	Pin  int
}

// Source produces sensor edges.
type Source interface {
	// Events returns the edge stream. The channel is closed by Close.
	Events() <-chan Event

	// Dropped reports how many edges were discarded because the
	// consumer fell behind.
	Dropped() uint64

	// Close releases GPIO resources and closes the event channel.
	Close() error
}
