package main

import (
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/sweeney/crank-sensor/internal/metrics"
	"github.com/sweeney/crank-sensor/internal/mqtt"
	"github.com/sweeney/crank-sensor/internal/rpm"
	"github.com/sweeney/crank-sensor/internal/status"
	"github.com/sweeney/crank-sensor/internal/trigger"
	"github.com/sweeney/crank-sensor/internal/web"
)

// eventBridge fans decoder notifications out to the tracker, metrics,
// MQTT and the websocket hub. Callbacks run on the edge-delivery
// goroutine, after the trigger central released its lock, so reading
// central state from here is safe.
type eventBridge struct {
	log       log15.Logger
	central   *trigger.Central
	est       *rpm.Estimator
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	publisher mqtt.Publisher
	hub       *web.Hub

	syncLosses atomic.Uint64
}

// SyncLosses reports how many times synchronization was lost.
func (b *eventBridge) SyncLosses() uint64 {
	return b.syncLosses.Load()
}

func (b *eventBridge) OnSynchronization(wasSynchronized bool) {
	b.tracker.SetSynchronized(true)
	b.metrics.SetSynchronized(true)
	if wasSynchronized {
		// Routine cycle boundary; the websocket stream carries it, MQTT
		// does not.
		b.emit("CYCLE", time.Now(), false)
		return
	}
	b.log.Info("synchronized")
	b.publish("SYNC", time.Now())
}

func (b *eventBridge) OnProperState(t time.Time) {
	b.emit("CYCLE_OK", t, false)
}

func (b *eventBridge) OnDecodingError() {
	b.metrics.IncDecodeError()
	b.log.Warn("trigger decoding error, event count mismatch")
	b.publish("DECODE_ERROR", time.Now())
}

func (b *eventBridge) OnInvalidIndex(currentIndex int) {
	b.log.Warn("trigger index overrun", "index", currentIndex)
	b.publish("INVALID_INDEX", time.Now())
}

func (b *eventBridge) OnSynchronizationLost() {
	b.syncLosses.Add(1)
	b.metrics.IncSyncLoss()
	b.tracker.SetSynchronized(false)
	b.metrics.SetSynchronized(false)
	b.log.Warn("synchronization lost")
	b.publish("SYNC_LOST", time.Now())
}

// publish sends the event to MQTT and the websocket stream.
func (b *eventBridge) publish(name string, t time.Time) {
	b.emit(name, t, true)
}

// emit builds the event payload and routes it. MQTT delivery failures
// are logged, never fatal.
func (b *eventBridge) emit(name string, t time.Time, toMQTT bool) {
	ev := mqtt.TriggerEvent{
		Timestamp:    t,
		Event:        name,
		Synchronized: b.central.IsSynchronized(),
	}
	b.est.Sample(b.central)
	ev.RPM = b.est.RPM()
	if angle, ok := b.central.EngineAngle(t); ok {
		ev.AngleDeg = angle
		ev.AngleValid = true
	}

	if toMQTT {
		if err := b.publisher.Publish(ev); err != nil {
			b.log.Warn("publish trigger event", "event", name, "err", err)
		}
	}
	if b.hub != nil {
		payload, err := mqtt.FormatPayload(ev)
		if err == nil {
			b.hub.BroadcastRaw(payload)
		}
	}
}
