package main

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/crank-sensor/internal/acquire"
	"github.com/sweeney/crank-sensor/internal/metrics"
	"github.com/sweeney/crank-sensor/internal/mqtt"
	"github.com/sweeney/crank-sensor/internal/preset"
	"github.com/sweeney/crank-sensor/internal/rpm"
	"github.com/sweeney/crank-sensor/internal/status"
	"github.com/sweeney/crank-sensor/internal/trigger"
)

func newTestDaemon(t *testing.T) (*daemon, *mqtt.FakePublisher, *prometheus.Registry) {
	t.Helper()
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())

	shape, err := preset.Build("60-2")
	if err != nil {
		t.Fatalf("build preset: %v", err)
	}

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{Preset: "60-2"})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	bridge := &eventBridge{
		log:       logger,
		tracker:   tracker,
		metrics:   m,
		publisher: pub,
	}
	central := trigger.NewCentral(shape, bridge, trigger.CentralConfig{
		NoiseFilterEnabled: false,
	})
	bridge.central = central
	est := rpm.New(shape)
	bridge.est = est

	d := &daemon{
		log:          logger,
		bridge:       bridge,
		central:      central,
		est:          est,
		metrics:      m,
		tracker:      tracker,
		publisher:    pub,
		stallTimeout: time.Second,
		heartbeat:    15 * time.Minute,
	}
	return d, pub, reg
}

// wheelEdges emits the rising edges of a 60-2 wheel: 57 regular pitches
// and the long landmark gap per cycle.
func wheelEdges(start time.Time, cycles int) []acquire.Event {
	pitch := time.Millisecond
	now := start
	var events []acquire.Event
	for c := 0; c < cycles; c++ {
		for i := 0; i < 57; i++ {
			now = now.Add(pitch)
			events = append(events, acquire.Event{Kind: acquire.LineCrankPrimary, Edge: trigger.EdgeRise, Time: now})
		}
		now = now.Add(3 * pitch)
		events = append(events, acquire.Event{Kind: acquire.LineCrankPrimary, Edge: trigger.EdgeRise, Time: now})
	}
	return events
}

func TestRunLoopDecodesEdgeStream(t *testing.T) {
	d, pub, _ := newTestDaemon(t)

	src := acquire.NewFakeSource(256)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, ev := range wheelEdges(start, 3) {
		src.Emit(ev)
	}
	src.Close()

	// With the source closed the loop drains every edge and then exits.
	err := d.runLoop(src, time.Now, nil, nil)
	if err == nil {
		t.Fatal("expected error after source close")
	}

	if !d.central.IsSynchronized() {
		t.Error("central should be synchronized after three clean cycles")
	}
	events, _ := pub.Snapshot()
	var syncs int
	for _, ev := range events {
		if ev.Event == "SYNC" {
			syncs++
		}
	}
	if syncs != 1 {
		t.Errorf("SYNC events published: got %d, want 1", syncs)
	}
	if !d.tracker.Snapshot().EverSynchronized {
		t.Error("tracker should have latched synchronization")
	}
}

func TestRunLoopShutdownOnSignal(t *testing.T) {
	d, pub, _ := newTestDaemon(t)

	src := acquire.NewFakeSource(1)
	defer src.Close()

	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGTERM

	if err := d.runLoop(src, time.Now, nil, sigCh); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	_, system := pub.Snapshot()
	if len(system) != 1 {
		t.Fatalf("system events: got %d, want 1", len(system))
	}
	if system[0].Event != "SHUTDOWN" || system[0].Reason != "SIGTERM" {
		t.Errorf("shutdown event: got %+v", system[0])
	}
	if system[0].RawPayload == nil {
		t.Error("shutdown event should carry a status snapshot")
	}
	if !system[0].Retained {
		t.Error("shutdown event should be retained")
	}
}

// counterValue reads a single counter from a gathered registry.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestStallWatchdogForcesSyncLoss(t *testing.T) {
	d, pub, reg := newTestDaemon(t)

	src := acquire.NewFakeSource(1)
	defer src.Close()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	edges := wheelEdges(start, 2)
	for _, ev := range edges {
		d.handleEdge(ev)
	}
	if !d.central.IsSynchronized() {
		t.Fatal("central should be synchronized")
	}

	// Within the stall timeout nothing happens.
	last := edges[len(edges)-1].Time
	d.onTick(last.Add(500*time.Millisecond), src)
	if !d.central.IsSynchronized() {
		t.Fatal("sync should survive a short quiet period")
	}

	d.onTick(last.Add(2*time.Second), src)
	if d.central.IsSynchronized() {
		t.Error("watchdog should have forced sync loss")
	}
	if got := d.bridge.SyncLosses(); got != 1 {
		t.Errorf("sync losses: got %d, want 1", got)
	}
	if got := counterValue(t, reg, "trigger_sync_losses_total"); got != 1 {
		t.Errorf("trigger_sync_losses_total: got %v, want 1", got)
	}

	events, _ := pub.Snapshot()
	var lost int
	for _, ev := range events {
		if ev.Event == "SYNC_LOST" {
			lost++
		}
	}
	if lost != 1 {
		t.Errorf("SYNC_LOST events: got %d, want 1", lost)
	}
}

func TestOnTickHeartbeat(t *testing.T) {
	d, pub, _ := newTestDaemon(t)
	d.heartbeat = time.Minute

	src := acquire.NewFakeSource(1)
	defer src.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.lastHeartbeat = now.Add(-2 * time.Minute)
	d.onTick(now, src)

	_, system := pub.Snapshot()
	if len(system) != 1 || system[0].Event != "HEARTBEAT" {
		t.Fatalf("system events: got %+v, want one HEARTBEAT", system)
	}
	if !d.lastHeartbeat.Equal(now) {
		t.Errorf("lastHeartbeat should advance, got %v", d.lastHeartbeat)
	}

	// Next tick inside the interval stays quiet.
	d.onTick(now.Add(time.Second), src)
	_, system = pub.Snapshot()
	if len(system) != 1 {
		t.Errorf("system events after quiet tick: got %d, want 1", len(system))
	}
}

func TestHandleEdgeRoutesCamSignals(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	camShape, err := preset.Build("cam-one-tooth")
	if err != nil {
		t.Fatalf("build cam preset: %v", err)
	}
	if err := d.central.ConfigureCam(1, 0, camShape); err != nil {
		t.Fatalf("configure cam: %v", err)
	}
	d.cams = []acquire.CamPin{{Bank: 1, Cam: 0, Pin: 23}}

	d.handleEdge(acquire.Event{
		Kind: acquire.LineCam,
		Bank: 1,
		Cam:  0,
		Edge: trigger.EdgeRise,
		Time: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})

	if got := d.central.CamEdgeCount(1, 0); got != 1 {
		t.Errorf("cam edge count: got %d, want 1", got)
	}
}

func TestRefreshStatusPopulatesTracker(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	src := acquire.NewFakeSource(1)
	defer src.Close()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	edges := wheelEdges(start, 3)
	for _, ev := range edges {
		d.handleEdge(ev)
	}

	last := edges[len(edges)-1].Time
	d.refreshStatus(last.Add(10 * time.Millisecond))

	snap := d.tracker.Snapshot()
	if !snap.Synchronized {
		t.Error("tracker should report synchronized")
	}
	if snap.RPM <= 0 {
		t.Errorf("tracker RPM: got %v, want > 0", snap.RPM)
	}
	if !snap.AngleValid {
		t.Error("tracker should report a valid engine angle")
	}
	if snap.Counters.PrimaryRise != uint64(len(edges)) {
		t.Errorf("primary rise counter: got %d, want %d", snap.Counters.PrimaryRise, len(edges))
	}
}
