// Package metrics exposes decoder and daemon state as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all registered collectors.
type Metrics struct {
	edgesTotal         *prometheus.CounterVec
	noiseRejectedTotal prometheus.Counter
	decodeErrorsTotal  prometheus.Counter
	syncLossesTotal    prometheus.Counter
	droppedEdgesTotal  prometheus.Counter

	synchronized prometheus.Gauge
	rpm          prometheus.Gauge
	engineAngle  prometheus.Gauge
	camOffset    *prometheus.GaugeVec
	camValid     *prometheus.GaugeVec
}

// New creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in the daemon and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		edgesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_edges_total",
				Help: "Sensor edges received, by channel and edge direction",
			},
			[]string{"channel", "edge"},
		),
		noiseRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_noise_rejected_total",
				Help: "Edges rejected by the noise filter",
			},
		),
		decodeErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_decode_errors_total",
				Help: "Cycles that completed with a wrong event count",
			},
		),
		syncLossesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_sync_losses_total",
				Help: "Times the decoder lost synchronization",
			},
		),
		droppedEdgesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_dropped_edges_total",
				Help: "Edges discarded because the event queue was full",
			},
		),
		synchronized: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trigger_synchronized",
				Help: "1 when the crank decoder is synchronized",
			},
		),
		rpm: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_rpm",
				Help: "Estimated crank speed in revolutions per minute",
			},
		),
		engineAngle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_angle_degrees",
				Help: "Current engine phase in degrees within the trigger cycle",
			},
		),
		camOffset: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cam_offset_degrees",
				Help: "Measured cam position relative to the crank cycle",
			},
			[]string{"bank", "cam"},
		),
		camValid: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cam_offset_valid",
				Help: "1 when the cam offset measurement is fresh",
			},
			[]string{"bank", "cam"},
		),
	}
}

// IncEdge counts one received sensor edge.
func (m *Metrics) IncEdge(channel, edge string) {
	m.edgesTotal.WithLabelValues(channel, edge).Inc()
}

// AddNoiseRejected counts edges discarded as noise. The daemon reports
// the filter's rejection delta once per tick rather than per edge.
func (m *Metrics) AddNoiseRejected(n float64) {
	m.noiseRejectedTotal.Add(n)
}

// IncDecodeError counts one cycle validation failure.
func (m *Metrics) IncDecodeError() {
	m.decodeErrorsTotal.Inc()
}

// IncSyncLoss counts one loss of synchronization.
func (m *Metrics) IncSyncLoss() {
	m.syncLossesTotal.Inc()
}

// AddDroppedEdges counts edges lost to queue overflow.
func (m *Metrics) AddDroppedEdges(n float64) {
	m.droppedEdgesTotal.Add(n)
}

// SetSynchronized publishes the sync state.
func (m *Metrics) SetSynchronized(synced bool) {
	if synced {
		m.synchronized.Set(1)
	} else {
		m.synchronized.Set(0)
	}
}

// SetRPM publishes the current speed estimate.
func (m *Metrics) SetRPM(rpm float64) {
	m.rpm.Set(rpm)
}

// SetEngineAngle publishes the current engine phase.
func (m *Metrics) SetEngineAngle(deg float64) {
	m.engineAngle.Set(deg)
}

// SetCamOffset publishes one cam channel's measured offset and freshness.
func (m *Metrics) SetCamOffset(bank, cam int, deg float64, valid bool) {
	b := strconv.Itoa(bank)
	c := strconv.Itoa(cam)
	m.camOffset.WithLabelValues(b, c).Set(deg)
	if valid {
		m.camValid.WithLabelValues(b, c).Set(1)
	} else {
		m.camValid.WithLabelValues(b, c).Set(0)
	}
}
