// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// Topic is the MQTT topic for trigger decoder events.
const Topic = "engine/trigger/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "engine/trigger/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a trigger event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event TriggerEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// TriggerEvent represents one decoder state change worth publishing.
type TriggerEvent struct {
	Timestamp    time.Time
	Event        string // e.g. "SYNC", "SYNC_LOST", "DECODE_ERROR", "INVALID_INDEX", "CYCLE_OK"
	Synchronized bool
	RPM          float64
	AngleDeg     float64
	AngleValid   bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Trigger TriggerPayload `json:"trigger"`
}

// TriggerPayload contains the trigger event details.
type TriggerPayload struct {
	Timestamp    string   `json:"timestamp"`
	Event        string   `json:"event"`
	Synchronized bool     `json:"synchronized"`
	RPM          float64  `json:"rpm"`
	AngleDeg     *float64 `json:"angle_deg,omitempty"`
}

// FormatPayload creates the JSON payload for a trigger event.
func FormatPayload(event TriggerEvent) ([]byte, error) {
	payload := Payload{
		Trigger: TriggerPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339Nano),
			Event:        event.Event,
			Synchronized: event.Synchronized,
			RPM:          event.RPM,
		},
	}
	if event.AngleValid {
		angle := event.AngleDeg
		payload.Trigger.AngleDeg = &angle
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
