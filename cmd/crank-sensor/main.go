// Command crank-sensor decodes crank/cam trigger wheel edges from GPIO and
// publishes engine synchronization state to MQTT, Prometheus and a live
// status page.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/sweeney/crank-sensor/internal/acquire"
	"github.com/sweeney/crank-sensor/internal/config"
	"github.com/sweeney/crank-sensor/internal/metrics"
	"github.com/sweeney/crank-sensor/internal/mqtt"
	"github.com/sweeney/crank-sensor/internal/preset"
	"github.com/sweeney/crank-sensor/internal/rpm"
	"github.com/sweeney/crank-sensor/internal/status"
	"github.com/sweeney/crank-sensor/internal/trigger"
	"github.com/sweeney/crank-sensor/internal/web"
)

// version is set at build time with -ldflags.
var version = "dev"

// tickInterval drives the watchdog, status refresh and heartbeat checks.
const tickInterval = 100 * time.Millisecond

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to YAML config file")
	presetName := pflag.String("preset", "", "Override trigger preset from config")
	broker := pflag.String("broker", "", "Override MQTT broker address")
	httpAddr := pflag.String("http", "", "Override HTTP status address")
	listPresets := pflag.Bool("list-presets", false, "List known trigger presets and exit")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	showVersion := pflag.Bool("version", false, "Print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *listPresets {
		for _, name := range preset.Names() {
			fmt.Println(name)
		}
		return
	}

	logger := log15.New("app", "crank-sensor")
	level := log15.LvlInfo
	if *verbose {
		level = log15.LvlDebug
	}
	logger.SetHandler(log15.LvlFilterHandler(level, log15.StderrHandler))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Crit("load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
	}
	if *presetName != "" {
		cfg.Trigger.Preset = *presetName
		cfg.Trigger.Custom = nil
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	if err := run(logger, cfg); err != nil {
		logger.Crit("fatal", "err", err)
		os.Exit(1)
	}
}

func run(logger log15.Logger, cfg config.Config) error {
	shape, err := cfg.BuildPrimary()
	if err != nil {
		return fmt.Errorf("build trigger waveform: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	tracker := status.NewTracker(time.Now(), status.Config{
		Preset:         cfg.Trigger.Preset,
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
		HeartbeatMin:   cfg.HeartbeatMinutes,
		StallTimeoutMs: cfg.StallTimeoutMs,
		NoiseFilter:    cfg.Trigger.NoiseFilter.Enabled,
	})
	hub := web.NewHub(logger)

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		real, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = real
		mqttStatus = real
	} else {
		logger.Warn("mqtt disabled, no broker configured")
		publisher = mqtt.NewFakePublisher()
	}
	defer publisher.Close()

	bridge := &eventBridge{
		log:       logger,
		tracker:   tracker,
		metrics:   m,
		publisher: publisher,
		hub:       hub,
	}
	central := trigger.NewCentral(shape, bridge, trigger.CentralConfig{
		NoiseFilterEnabled: cfg.Trigger.NoiseFilter.Enabled,
		NoiseRatio:         cfg.Trigger.NoiseFilter.Ratio,
	})
	bridge.central = central

	est := rpm.New(shape)
	bridge.est = est

	var camPins []acquire.CamPin
	for _, cc := range cfg.Cams {
		camShape, err := cc.BuildCam()
		if err != nil {
			return fmt.Errorf("build cam %d/%d waveform: %w", cc.Bank, cc.Cam, err)
		}
		if err := central.ConfigureCam(cc.Bank, cc.Cam, camShape); err != nil {
			return fmt.Errorf("configure cam %d/%d: %w", cc.Bank, cc.Cam, err)
		}
		camPins = append(camPins, acquire.CamPin{Bank: cc.Bank, Cam: cc.Cam, Pin: cc.Pin})
	}

	src, err := acquire.NewRealSource(cfg.GPIO.Chip, cfg.GPIO.PrimaryPin, cfg.GPIO.SecondaryPin, camPins)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer src.Close()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Warn("publish startup event", "err", err)
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"preset", cfg.Trigger.Preset,
		"chip", cfg.GPIO.Chip,
		"pin", cfg.GPIO.PrimaryPin,
		"cams", len(camPins),
		"broker", cfg.MQTT.Broker)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		log:          logger,
		bridge:       bridge,
		central:      central,
		est:          est,
		metrics:      m,
		tracker:      tracker,
		publisher:    publisher,
		mqttStatus:   mqttStatus,
		hub:          hub,
		cams:         camPins,
		stallTimeout: time.Duration(cfg.StallTimeoutMs) * time.Millisecond,
		heartbeat:    time.Duration(cfg.HeartbeatMinutes) * time.Minute,
	}
	return d.runLoop(src, time.Now, ticker.C, sigCh)
}

// daemon carries the run loop's collaborators.
type daemon struct {
	log          log15.Logger
	bridge       *eventBridge
	central      *trigger.Central
	est          *rpm.Estimator
	metrics      *metrics.Metrics
	tracker      *status.Tracker
	publisher    mqtt.Publisher
	mqttStatus   mqtt.ConnectionStatus // nil when MQTT is disabled
	hub          *web.Hub
	cams         []acquire.CamPin
	stallTimeout time.Duration
	heartbeat    time.Duration

	lastHeartbeat time.Time
	lastDropped   uint64
	lastRejected  uint64
}

// runLoop consumes sensor edges and periodic ticks until a shutdown
// signal arrives.
func (d *daemon) runLoop(src acquire.Source, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	d.lastHeartbeat = now()

	for {
		select {
		case s := <-sig:
			d.log.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.refreshStatus(now())
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.log.Warn("publish shutdown event", "err", err)
			}
			return nil

		case ev, ok := <-src.Events():
			if !ok {
				return fmt.Errorf("edge source closed")
			}
			d.handleEdge(ev)

		case <-tick:
			d.onTick(now(), src)
		}
	}
}

// handleEdge routes one sensor edge into the trigger central.
func (d *daemon) handleEdge(ev acquire.Event) {
	switch ev.Kind {
	case acquire.LineCrankPrimary:
		d.metrics.IncEdge("primary", ev.Edge.String())
		d.central.HandleShaftSignal(trigger.ChannelPrimary, ev.Edge, ev.Time)
	case acquire.LineCrankSecondary:
		d.metrics.IncEdge("secondary", ev.Edge.String())
		d.central.HandleShaftSignal(trigger.ChannelSecondary, ev.Edge, ev.Time)
	case acquire.LineCam:
		d.metrics.IncEdge(fmt.Sprintf("cam%d.%d", ev.Bank, ev.Cam), ev.Edge.String())
		d.central.HandleCamSignal(ev.Bank, ev.Cam, ev.Edge, ev.Time)
	}
}

// onTick runs the stall watchdog and refreshes the exported state.
func (d *daemon) onTick(t time.Time, src acquire.Source) {
	// Stall watchdog: an engine that stops turning never delivers the
	// edge that would report sync loss, so force it from here.
	since := d.central.TimeSinceTriggerEvent(t)
	if since >= 0 && since > d.stallTimeout && d.central.IsSynchronized() {
		d.log.Warn("no trigger edges, forcing sync loss", "since", since)
		d.central.ForceDesync(t)
	}

	d.central.ValidateCamCounters(t)
	d.refreshStatus(t)

	if d.hub != nil && d.hub.ClientCount() > 0 {
		d.hub.BroadcastRaw(status.FormatJSON(d.tracker.Snapshot()))
	}

	if dropped := src.Dropped(); dropped > d.lastDropped {
		d.metrics.AddDroppedEdges(float64(dropped - d.lastDropped))
		d.lastDropped = dropped
	}

	if d.heartbeat > 0 && t.Sub(d.lastHeartbeat) >= d.heartbeat {
		d.lastHeartbeat = t
		hb := mqtt.SystemEvent{
			Timestamp:  t,
			Event:      "HEARTBEAT",
			RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", ""),
		}
		if err := d.publisher.PublishSystem(hb); err != nil {
			d.log.Warn("heartbeat publish", "err", err)
		}
	}
}

// refreshStatus pushes current decoder state into the tracker and gauges.
func (d *daemon) refreshStatus(t time.Time) {
	d.est.Sample(d.central)
	speed := 0.0
	if d.central.EngineMovedRecently(t) {
		speed = d.est.RPM()
	}
	angle, angleValid := d.central.EngineAngle(t)

	var cams []status.CamStatus
	for _, cp := range d.cams {
		offset, valid := d.central.CamOffset(cp.Bank, cp.Cam)
		cams = append(cams, status.CamStatus{
			Bank:      cp.Bank,
			Cam:       cp.Cam,
			OffsetDeg: offset,
			Valid:     valid,
			Edges:     d.central.CamEdgeCount(cp.Bank, cp.Cam),
		})
		d.metrics.SetCamOffset(cp.Bank, cp.Cam, offset, valid)
	}

	noise := d.central.NoiseStats()
	counters := status.Counters{
		PrimaryRise:   d.central.HwEventCount(trigger.EventPrimaryRise),
		PrimaryFall:   d.central.HwEventCount(trigger.EventPrimaryFall),
		SecondaryRise: d.central.HwEventCount(trigger.EventSecondaryRise),
		SecondaryFall: d.central.HwEventCount(trigger.EventSecondaryFall),
		NoiseRejected: noise.Rejected,
		DecodeErrors:  d.central.DecodeErrorCount(),
		SyncLosses:    d.bridge.SyncLosses(),
	}

	if noise.Rejected > d.lastRejected {
		d.metrics.AddNoiseRejected(float64(noise.Rejected - d.lastRejected))
		d.lastRejected = noise.Rejected
	}

	d.tracker.Update(d.central.IsSynchronized(), speed, angle, angleValid, cams, counters)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	d.metrics.SetSynchronized(d.central.IsSynchronized())
	d.metrics.SetRPM(speed)
	if angleValid {
		d.metrics.SetEngineAngle(angle)
	}
}
