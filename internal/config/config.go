// Package config loads and validates the crank-sensor YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/crank-sensor/internal/preset"
	"github.com/sweeney/crank-sensor/internal/trigger"
)

// Config represents the application configuration.
type Config struct {
	Trigger TriggerConfig `yaml:"trigger"`
	Cams    []CamConfig   `yaml:"cams"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`

	HeartbeatMinutes int `yaml:"heartbeat_minutes"` // MQTT heartbeat interval (default: 5)
	StallTimeoutMs   int `yaml:"stall_timeout_ms"`  // Force sync loss after this long without an edge (default: 1000)
}

// TriggerConfig selects the crank trigger wheel, either by preset name or
// as a custom event pattern.
type TriggerConfig struct {
	Preset      string           `yaml:"preset"`
	Custom      *CustomWaveform  `yaml:"custom,omitempty"`
	NoiseFilter NoiseFilterConfig `yaml:"noise_filter"`
}

// NoiseFilterConfig tunes the edge noise filter.
type NoiseFilterConfig struct {
	Enabled bool    `yaml:"enabled"`
	Ratio   float64 `yaml:"ratio"` // Minimum period as a fraction of the previous period (default: 0.25)
}

// CustomWaveform describes a trigger wheel inline when no preset fits.
type CustomWaveform struct {
	Mode          string        `yaml:"mode"` // "crank" or "cam"
	Events        []CustomEvent `yaml:"events"`
	SyncGap       float64       `yaml:"sync_gap"`        // Nominal gap ratio (0 = no synchronization needed)
	SecondGapFrom float64       `yaml:"second_gap_from"` // Optional second gap window
	SecondGapTo   float64       `yaml:"second_gap_to"`
	RisingOnly    bool          `yaml:"rising_only"`
	TDCPosition   float64       `yaml:"tdc_position"`
}

// CustomEvent is a single edge of a custom waveform.
type CustomEvent struct {
	Angle   float64 `yaml:"angle"`
	Channel string  `yaml:"channel"` // "primary" or "secondary"
	Edge    string  `yaml:"edge"`    // "rise" or "fall"
}

// CamConfig attaches a cam wheel to a decoder slot and a GPIO pin.
type CamConfig struct {
	Bank   int    `yaml:"bank"`
	Cam    int    `yaml:"cam"`
	Preset string `yaml:"preset"`
	Pin    int    `yaml:"pin"`
}

// GPIOConfig contains the GPIO chip and input pins.
type GPIOConfig struct {
	Chip         string `yaml:"chip"`          // e.g. "gpiochip0"
	PrimaryPin   int    `yaml:"primary_pin"`   // Crank sensor input
	SecondaryPin int    `yaml:"secondary_pin"` // Second crank channel (-1 = not fitted)
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID string `yaml:"client_id"`
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // e.g. ":8080"
}

// Default returns the configuration used when a field is not specified.
func Default() Config {
	return Config{
		Trigger: TriggerConfig{
			Preset: "60-2",
			NoiseFilter: NoiseFilterConfig{
				Enabled: true,
				Ratio:   trigger.DefaultNoiseRatio,
			},
		},
		GPIO: GPIOConfig{
			Chip:         "gpiochip0",
			PrimaryPin:   17,
			SecondaryPin: -1,
		},
		MQTT: MQTTConfig{
			ClientID: "crank-sensor",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		HeartbeatMinutes: 5,
		StallTimeoutMs:   1000,
	}
}

// Load reads the file at path on top of the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that yaml parsing cannot.
func (c *Config) Validate() error {
	if c.Trigger.Preset == "" && c.Trigger.Custom == nil {
		return fmt.Errorf("trigger: either preset or custom must be set")
	}
	if c.Trigger.Preset != "" && c.Trigger.Custom != nil {
		return fmt.Errorf("trigger: preset and custom are mutually exclusive")
	}
	if c.Trigger.NoiseFilter.Enabled && (c.Trigger.NoiseFilter.Ratio <= 0 || c.Trigger.NoiseFilter.Ratio >= 1) {
		return fmt.Errorf("trigger.noise_filter.ratio must be in (0, 1), got %v", c.Trigger.NoiseFilter.Ratio)
	}
	if c.HeartbeatMinutes <= 0 {
		return fmt.Errorf("heartbeat_minutes must be positive, got %d", c.HeartbeatMinutes)
	}
	if c.StallTimeoutMs <= 0 {
		return fmt.Errorf("stall_timeout_ms must be positive, got %d", c.StallTimeoutMs)
	}
	seen := map[[2]int]bool{}
	for i, cam := range c.Cams {
		if cam.Bank < 0 || cam.Bank >= trigger.BanksCount {
			return fmt.Errorf("cams[%d]: bank %d out of range [0, %d)", i, cam.Bank, trigger.BanksCount)
		}
		if cam.Cam < 0 || cam.Cam >= trigger.CamsPerBank {
			return fmt.Errorf("cams[%d]: cam %d out of range [0, %d)", i, cam.Cam, trigger.CamsPerBank)
		}
		key := [2]int{cam.Bank, cam.Cam}
		if seen[key] {
			return fmt.Errorf("cams[%d]: duplicate bank/cam slot %d/%d", i, cam.Bank, cam.Cam)
		}
		seen[key] = true
		if cam.Preset == "" {
			return fmt.Errorf("cams[%d]: preset is required", i)
		}
	}
	return nil
}

// BuildPrimary constructs the crank trigger waveform from the
// configuration.
func (c *Config) BuildPrimary() (*trigger.Waveform, error) {
	if c.Trigger.Custom != nil {
		return c.Trigger.Custom.build()
	}
	return preset.Build(c.Trigger.Preset)
}

// BuildCam constructs the waveform for one configured cam slot.
func (cc CamConfig) BuildCam() (*trigger.Waveform, error) {
	return preset.Build(cc.Preset)
}

func (w *CustomWaveform) build() (*trigger.Waveform, error) {
	var mode trigger.OperationMode
	switch strings.ToLower(w.Mode) {
	case "crank":
		mode = trigger.ModeCrank
	case "cam":
		mode = trigger.ModeCam
	default:
		return nil, fmt.Errorf("custom waveform: unknown mode %q", w.Mode)
	}

	b := trigger.NewBuilder(mode)
	for i, ev := range w.Events {
		ch, err := parseChannel(ev.Channel)
		if err != nil {
			return nil, fmt.Errorf("custom waveform: events[%d]: %w", i, err)
		}
		edge, err := parseEdge(ev.Edge)
		if err != nil {
			return nil, fmt.Errorf("custom waveform: events[%d]: %w", i, err)
		}
		b.AddEventAngle(ev.Angle, ch, edge)
	}
	if w.SyncGap > 0 {
		b.SetSyncGap(w.SyncGap)
		if w.SecondGapTo > 0 {
			b.SetSecondSyncGapWindow(w.SecondGapFrom, w.SecondGapTo)
		}
	} else {
		b.SetNoSyncNeeded()
	}
	if w.RisingOnly {
		b.UseOnlyRisingEdges()
	}
	if w.TDCPosition != 0 {
		b.SetTDCPosition(w.TDCPosition)
	}
	return b.Build()
}

func parseChannel(s string) (trigger.ChannelID, error) {
	switch strings.ToLower(s) {
	case "primary", "":
		return trigger.ChannelPrimary, nil
	case "secondary":
		return trigger.ChannelSecondary, nil
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

func parseEdge(s string) (trigger.Edge, error) {
	switch strings.ToLower(s) {
	case "rise", "rising":
		return trigger.EdgeRise, nil
	case "fall", "falling":
		return trigger.EdgeFall, nil
	}
	return 0, fmt.Errorf("unknown edge %q", s)
}
