package rpm

import (
	"math"
	"testing"
	"time"

	"github.com/sweeney/crank-sensor/internal/preset"
)

func buildWheel(t *testing.T, name string) *Estimator {
	t.Helper()
	shape, err := preset.Build(name)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return New(shape)
}

func TestRPMZeroWithoutSamples(t *testing.T) {
	e := buildWheel(t, "60-2")
	if got := e.RPM(); got != 0 {
		t.Errorf("RPM with no samples: got %v, want 0", got)
	}
}

func TestRPMNilShape(t *testing.T) {
	e := New(nil)
	e.Update([]time.Duration{time.Millisecond})
	if got := e.RPM(); got != 0 {
		t.Errorf("RPM with nil waveform: got %v, want 0", got)
	}
}

func TestRPMSteadySpeed(t *testing.T) {
	// 60-2 decodes 58 events per 360 degrees. At 1 ms per event the
	// crank turns 360/58 degrees per ms, so one revolution takes 58 ms:
	// 60/0.058 = 1034.48 rpm.
	e := buildWheel(t, "60-2")
	periods := make([]time.Duration, 8)
	for i := range periods {
		periods[i] = time.Millisecond
	}
	e.Update(periods)

	want := 60.0 / 0.058
	if got := e.RPM(); math.Abs(got-want) > 0.01 {
		t.Errorf("RPM: got %v, want %v", got, want)
	}
}

func TestRPMCamWheel(t *testing.T) {
	// A one-tooth cam wheel has 2 events over 720 crank degrees. At
	// 100 ms per event the crank covers 360 deg in 100 ms: 600 rpm.
	e := buildWheel(t, "cam-one-tooth")
	e.Update([]time.Duration{100 * time.Millisecond, 100 * time.Millisecond})

	want := 600.0
	if got := e.RPM(); math.Abs(got-want) > 0.01 {
		t.Errorf("RPM: got %v, want %v", got, want)
	}
}

func TestJitter(t *testing.T) {
	e := buildWheel(t, "60-2")
	e.Update([]time.Duration{time.Millisecond, time.Millisecond})
	if got := e.Jitter(); got != 0 {
		t.Errorf("jitter of uniform periods: got %v, want 0", got)
	}

	e.Update([]time.Duration{time.Millisecond, 3 * time.Millisecond})
	if got := e.Jitter(); got <= 0 {
		t.Errorf("jitter of ragged periods: got %v, want > 0", got)
	}
}
