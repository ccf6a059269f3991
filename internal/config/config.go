package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/packcam/internal/ingest"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/packcam.defaults.json"

// Camera kinds.
const (
	CameraSimulated = "simulated"
	CameraSnapshot  = "snapshot"
)

// CameraConfig binds one slot to a device.
type CameraConfig struct {
	Slot        int    `json:"slot"`
	Kind        string `json:"kind"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
	TriggerURL  string `json:"trigger_url,omitempty"`
}

// Config is the root packcam configuration. Fields omitted from the file are
// nil and the Get* methods return their defaults.
type Config struct {
	// Listeners
	TriggerListen   *string `json:"trigger_listen,omitempty"`
	BroadcastListen *string `json:"broadcast_listen,omitempty"`
	HTTPListen      *string `json:"http_listen,omitempty"`
	AcceptPoll      *string `json:"accept_poll,omitempty"` // duration string like "1s"

	EvidenceDir *string `json:"evidence_dir,omitempty"`

	// Capture
	CountdownSeconds *int           `json:"countdown_seconds,omitempty"`
	DeviceTimeout    *string        `json:"device_timeout,omitempty"` // duration string like "3000ms"
	QueueDepth       *int           `json:"queue_depth,omitempty"`
	Cameras          []CameraConfig `json:"cameras,omitempty"`
	SimulatedCameras *int           `json:"simulated_cameras,omitempty"`

	// Upstream scanner (optional)
	UpstreamAddress     *string  `json:"upstream_address,omitempty"`
	UpstreamBackoff     *string  `json:"upstream_backoff,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`

	// Serial scanner (optional)
	SerialPort    *string             `json:"serial_port,omitempty"`
	SerialOptions *ingest.PortOptions `json:"serial_options,omitempty"`

	SubscriberWriteTimeout *string `json:"subscriber_write_timeout,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under 1MB. Partial files are fine.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so it works from package tests. Panics if not found.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/ocr-sim/
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"accept_poll":              c.AcceptPoll,
		"device_timeout":           c.DeviceTimeout,
		"upstream_backoff":         c.UpstreamBackoff,
		"subscriber_write_timeout": c.SubscriberWriteTimeout,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.CountdownSeconds != nil && *c.CountdownSeconds < 0 {
		return fmt.Errorf("countdown_seconds must be non-negative, got %d", *c.CountdownSeconds)
	}
	if c.QueueDepth != nil && *c.QueueDepth < 0 {
		return fmt.Errorf("queue_depth must be non-negative, got %d", *c.QueueDepth)
	}
	if c.SimulatedCameras != nil && *c.SimulatedCameras < 0 {
		return fmt.Errorf("simulated_cameras must be non-negative, got %d", *c.SimulatedCameras)
	}
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold <= 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be in (0, 1], got %f", *c.ConfidenceThreshold)
		}
	}
	if c.EvidenceDir != nil && *c.EvidenceDir == "" {
		return fmt.Errorf("evidence_dir must not be empty")
	}

	seen := make(map[int]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.Slot < 1 {
			return fmt.Errorf("cameras[%d]: slot must be >= 1, got %d", i, cam.Slot)
		}
		if seen[cam.Slot] {
			return fmt.Errorf("cameras[%d]: duplicate slot %d", i, cam.Slot)
		}
		seen[cam.Slot] = true
		switch cam.Kind {
		case CameraSimulated:
		case CameraSnapshot:
			if cam.SnapshotURL == "" {
				return fmt.Errorf("cameras[%d]: snapshot camera needs snapshot_url", i)
			}
		default:
			return fmt.Errorf("cameras[%d]: unknown kind %q", i, cam.Kind)
		}
	}

	if c.SerialOptions != nil {
		if _, err := c.SerialOptions.Normalise(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetTriggerListen returns the trigger_listen address or the default.
func (c *Config) GetTriggerListen() string { return stringOr(c.TriggerListen, "0.0.0.0:5001") }

// GetBroadcastListen returns the broadcast_listen address or the default.
func (c *Config) GetBroadcastListen() string { return stringOr(c.BroadcastListen, "127.0.0.1:5002") }

// GetHTTPListen returns the http_listen address or the default.
func (c *Config) GetHTTPListen() string { return stringOr(c.HTTPListen, "127.0.0.1:8080") }

// GetEvidenceDir returns the evidence_dir value or the default.
func (c *Config) GetEvidenceDir() string { return stringOr(c.EvidenceDir, "evidence") }

// GetAcceptPoll parses accept_poll.
func (c *Config) GetAcceptPoll() time.Duration { return durationOr(c.AcceptPoll, time.Second) }

// GetDeviceTimeout parses device_timeout.
func (c *Config) GetDeviceTimeout() time.Duration {
	return durationOr(c.DeviceTimeout, 3000*time.Millisecond)
}

// GetUpstreamBackoff parses upstream_backoff.
func (c *Config) GetUpstreamBackoff() time.Duration {
	return durationOr(c.UpstreamBackoff, 3*time.Second)
}

// GetSubscriberWriteTimeout parses subscriber_write_timeout.
func (c *Config) GetSubscriberWriteTimeout() time.Duration {
	return durationOr(c.SubscriberWriteTimeout, 2*time.Second)
}

// GetCountdownSeconds returns the countdown_seconds value or the default.
func (c *Config) GetCountdownSeconds() int {
	if c.CountdownSeconds == nil {
		return 3
	}
	return *c.CountdownSeconds
}

// GetQueueDepth returns the queue_depth value. Zero drops identifiers that
// arrive while a session is running.
func (c *Config) GetQueueDepth() int {
	if c.QueueDepth == nil {
		return 0
	}
	return *c.QueueDepth
}

// GetSimulatedCameras returns the simulated_cameras value or the default.
func (c *Config) GetSimulatedCameras() int {
	if c.SimulatedCameras == nil {
		return 4
	}
	return *c.SimulatedCameras
}

// GetUpstreamAddress returns the upstream scanner address. Empty disables
// the upstream client.
func (c *Config) GetUpstreamAddress() string { return stringOr(c.UpstreamAddress, "") }

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.85
	}
	return *c.ConfidenceThreshold
}

// GetSerialPort returns the serial scanner device. Empty disables it.
func (c *Config) GetSerialPort() string { return stringOr(c.SerialPort, "") }

// GetSerialOptions returns serial_options or the zero value, which
// Normalise fills with 9600 8N1.
func (c *Config) GetSerialOptions() ingest.PortOptions {
	if c.SerialOptions == nil {
		return ingest.PortOptions{}
	}
	return *c.SerialOptions
}

// CameraSet returns the configured cameras. When none are listed and
// simulate is true (or nothing else is configured), it returns
// GetSimulatedCameras simulated slots numbered from 1.
func (c *Config) CameraSet(simulate bool) []CameraConfig {
	if len(c.Cameras) > 0 && !simulate {
		return append([]CameraConfig(nil), c.Cameras...)
	}
	n := c.GetSimulatedCameras()
	if len(c.Cameras) > 0 && simulate {
		n = len(c.Cameras)
	}
	out := make([]CameraConfig, 0, n)
	for i := 0; i < n; i++ {
		slot := i + 1
		if len(c.Cameras) > 0 {
			slot = c.Cameras[i].Slot
		}
		out = append(out, CameraConfig{Slot: slot, Kind: CameraSimulated})
	}
	return out
}
