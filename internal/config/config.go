package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device" toml:"device"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	History   HistoryConfig   `yaml:"history" toml:"history"`
	Hotkey    HotkeyConfig    `yaml:"hotkey" toml:"hotkey"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	LogLevel  string          `yaml:"log_level" toml:"log_level"`
}

// DeviceConfig selects which strap to connect to.
type DeviceConfig struct {
	NamePrefix  string        `yaml:"name_prefix" toml:"name_prefix"`
	Address     string        `yaml:"address" toml:"address"` // skip scanning when set
	ScanTimeout time.Duration `yaml:"scan_timeout" toml:"scan_timeout"`
}

// SessionConfig holds per-connection behavior.
type SessionConfig struct {
	BatteryPollInterval time.Duration `yaml:"battery_poll_interval" toml:"battery_poll_interval"`
	SyncClockOnConnect  bool          `yaml:"sync_clock_on_connect" toml:"sync_clock_on_connect"`
	ClockSettleDelay    time.Duration `yaml:"clock_settle_delay" toml:"clock_settle_delay"`
	MetadataTimeout     time.Duration `yaml:"metadata_timeout" toml:"metadata_timeout"` // 0 waits indefinitely
}

// HistoryConfig holds history download settings.
type HistoryConfig struct {
	OutputDir string `yaml:"output_dir" toml:"output_dir"`
}

// HotkeyConfig maps global key combos to strap actions.
type HotkeyConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	ToggleRealtime  []string `yaml:"toggle_realtime" toml:"toggle_realtime"`
	DownloadHistory []string `yaml:"download_history" toml:"download_history"`
	SyncClock       []string `yaml:"sync_clock" toml:"sync_clock"`
}

// TelemetryConfig holds optional reading sinks. Empty values disable them.
type TelemetryConfig struct {
	RecordPath   string `yaml:"record_path" toml:"record_path"`
	NATSURL      string `yaml:"nats_url" toml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject" toml:"nats_subject"`
	MQTTBroker   string `yaml:"mqtt_broker" toml:"mqtt_broker"`
	MQTTTopic    string `yaml:"mqtt_topic" toml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id" toml:"mqtt_client_id"`
}

// ReconnectConfig controls reconnection after link loss.
type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	MaxBackoff time.Duration `yaml:"max_backoff" toml:"max_backoff"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "strapctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	outputDir := filepath.Join(home, ".local", "share", "strapctl", "history")

	return &Config{
		Device: DeviceConfig{
			NamePrefix:  "WHOOP",
			ScanTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			BatteryPollInterval: 30 * time.Second,
			ClockSettleDelay:    2 * time.Second,
		},
		History: HistoryConfig{
			OutputDir: outputDir,
		},
		Hotkey: HotkeyConfig{
			ToggleRealtime:  []string{"ctrl", "shift", "h"},
			DownloadHistory: []string{"ctrl", "shift", "d"},
			SyncClock:       []string{"ctrl", "shift", "t"},
		},
		Telemetry: TelemetryConfig{
			NATSSubject:  "strap",
			MQTTTopic:    "strap",
			MQTTClientID: "strapctl",
		},
		Reconnect: ReconnectConfig{
			Enabled:    true,
			MaxBackoff: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML or TOML config file, chosen by extension.
// Missing fields are filled with defaults. Tilde (~) in paths is expanded
// to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.History.OutputDir = expandTilde(cfg.History.OutputDir)
	cfg.Telemetry.RecordPath = expandTilde(cfg.Telemetry.RecordPath)

	return cfg, nil
}

// defaultHeader is written at the top of generated config files.
const defaultHeader = `# strapctl configuration
# Durations use Go syntax (30s, 2m). Empty telemetry values disable that sink.

`

// WriteDefault writes the default config to DefaultConfigPath. If a config
// file already exists it is left untouched and ("", nil) is returned.
func WriteDefault() (string, error) {
	return WriteDefaultAt(DefaultConfigPath())
}

// WriteDefaultAt writes the default config as YAML to path, creating parent
// directories. An existing file is left untouched and ("", nil) is returned.
func WriteDefaultAt(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NamePrefix == "" && c.Device.Address == "" {
		return fmt.Errorf("device.name_prefix or device.address must be set")
	}

	if c.Device.ScanTimeout <= 0 {
		return fmt.Errorf("device.scan_timeout must be > 0")
	}

	if c.Session.BatteryPollInterval <= 0 {
		return fmt.Errorf("session.battery_poll_interval must be > 0")
	}

	if c.Session.ClockSettleDelay < 0 {
		return fmt.Errorf("session.clock_settle_delay must not be negative")
	}

	if c.Session.MetadataTimeout < 0 {
		return fmt.Errorf("session.metadata_timeout must not be negative")
	}

	if c.History.OutputDir == "" {
		return fmt.Errorf("history.output_dir must not be empty")
	}

	if c.Hotkey.Enabled {
		combos := map[string][]string{
			"toggle_realtime":  c.Hotkey.ToggleRealtime,
			"download_history": c.Hotkey.DownloadHistory,
			"sync_clock":       c.Hotkey.SyncClock,
		}
		for name, keys := range combos {
			if len(keys) == 0 {
				return fmt.Errorf("hotkey.%s must not be empty when hotkeys are enabled", name)
			}
		}
	}

	if c.Telemetry.NATSURL != "" && c.Telemetry.NATSSubject == "" {
		return fmt.Errorf("telemetry.nats_subject must be set when nats_url is set")
	}

	if c.Telemetry.MQTTBroker != "" && c.Telemetry.MQTTTopic == "" {
		return fmt.Errorf("telemetry.mqtt_topic must be set when mqtt_broker is set")
	}

	if c.Reconnect.Enabled && c.Reconnect.MaxBackoff <= 0 {
		return fmt.Errorf("reconnect.max_backoff must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
