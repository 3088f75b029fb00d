// Package rpm estimates engine speed from decoder tooth periods.
//
// The estimator holds a small window of recent tooth periods and converts
// their mean into crank revolutions per minute using the waveform's
// angular pitch. All angles are crank-referenced: a cam waveform covers a
// 720 degree cycle, which is two crank revolutions, so the same formula
// applies to both operation modes.
package rpm

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sweeney/crank-sensor/internal/trigger"
)

// Estimator converts tooth periods into an RPM figure. Safe for
// concurrent use.
type Estimator struct {
	mu          sync.Mutex
	degPerEvent float64
	periods     []float64 // seconds, oldest first
	scratch     []time.Duration
}

// New returns an estimator for the given waveform. A nil waveform yields
// an estimator that always reports zero.
func New(shape *trigger.Waveform) *Estimator {
	e := &Estimator{}
	if shape != nil && shape.Size() > 0 {
		e.degPerEvent = shape.CycleLength() / float64(shape.Size())
	}
	return e
}

// Sample pulls the recent tooth periods out of the trigger central and
// replaces the estimator's window with them.
func (e *Estimator) Sample(c *trigger.Central) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scratch = c.RecentPeriods(e.scratch[:0])
	e.periods = e.periods[:0]
	for _, p := range e.scratch {
		e.periods = append(e.periods, p.Seconds())
	}
}

// Update replaces the window directly. Used by tests and by callers that
// track periods themselves.
func (e *Estimator) Update(periods []time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.periods = e.periods[:0]
	for _, p := range periods {
		e.periods = append(e.periods, p.Seconds())
	}
}

// RPM returns the current estimate, or zero when no periods have been
// sampled yet.
func (e *Estimator) RPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.periods) == 0 || e.degPerEvent == 0 {
		return 0
	}
	mean := stat.Mean(e.periods, nil)
	if mean <= 0 {
		return 0
	}
	degPerSec := e.degPerEvent / mean
	return degPerSec / 360 * 60
}

// Jitter returns the standard deviation of the sampled periods in
// seconds. A noisy wheel or a misfiring engine shows up here before it
// shows up as decode errors.
func (e *Estimator) Jitter() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.periods) < 2 {
		return 0
	}
	return stat.StdDev(e.periods, nil)
}
