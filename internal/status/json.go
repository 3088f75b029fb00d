package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event            string       `json:"event,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	Synchronized     bool         `json:"synchronized"`
	EverSynchronized bool         `json:"ever_synchronized"`
	RPM              float64      `json:"rpm"`
	AngleDeg         *float64     `json:"angle_deg,omitempty"`
	Cams             []CamJSON    `json:"cams,omitempty"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	StartTime        string       `json:"start_time"`
	Timestamp        string       `json:"timestamp"`
	MQTT             MQTTStatus   `json:"mqtt"`
	Counters         CountersJSON `json:"counters"`
	Config           ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CamJSON is the JSON representation of one cam channel.
type CamJSON struct {
	Bank      int      `json:"bank"`
	Cam       int      `json:"cam"`
	OffsetDeg *float64 `json:"offset_deg,omitempty"`
	Edges     uint64   `json:"edges"`
}

// CountersJSON is the JSON representation of the diagnostic counters.
type CountersJSON struct {
	PrimaryRise   uint64 `json:"primary_rise"`
	PrimaryFall   uint64 `json:"primary_fall"`
	SecondaryRise uint64 `json:"secondary_rise"`
	SecondaryFall uint64 `json:"secondary_fall"`
	NoiseRejected uint64 `json:"noise_rejected"`
	DecodeErrors  uint64 `json:"decode_errors"`
	SyncLosses    uint64 `json:"sync_losses"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Preset         string `json:"preset"`
	Broker         string `json:"broker,omitempty"`
	HTTPAddr       string `json:"http_addr"`
	HeartbeatMin   int    `json:"heartbeat_minutes"`
	StallTimeoutMs int    `json:"stall_timeout_ms"`
	NoiseFilter    bool   `json:"noise_filter"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Synchronized:     snap.Synchronized,
		EverSynchronized: snap.EverSynchronized,
		RPM:              snap.RPM,
		UptimeSeconds:    int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:        snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:        snap.Now.UTC().Format(time.RFC3339),
		MQTT:             MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counters: CountersJSON{
			PrimaryRise:   snap.Counters.PrimaryRise,
			PrimaryFall:   snap.Counters.PrimaryFall,
			SecondaryRise: snap.Counters.SecondaryRise,
			SecondaryFall: snap.Counters.SecondaryFall,
			NoiseRejected: snap.Counters.NoiseRejected,
			DecodeErrors:  snap.Counters.DecodeErrors,
			SyncLosses:    snap.Counters.SyncLosses,
		},
		Config: ConfigJSON{
			Preset:         snap.Config.Preset,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
			HeartbeatMin:   snap.Config.HeartbeatMin,
			StallTimeoutMs: snap.Config.StallTimeoutMs,
			NoiseFilter:    snap.Config.NoiseFilter,
		},
	}
	if snap.AngleValid {
		angle := snap.AngleDeg
		inner.AngleDeg = &angle
	}
	for _, cam := range snap.Cams {
		cj := CamJSON{Bank: cam.Bank, Cam: cam.Cam, Edges: cam.Edges}
		if cam.Valid {
			offset := cam.OffsetDeg
			cj.OffsetDeg = &offset
		}
		inner.Cams = append(inner.Cams, cj)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
