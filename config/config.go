// Package config loads and validates YAML configuration for the agent and
// server binaries. Unknown keys are ignored; missing required keys fail
// startup with a descriptive error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "10s", "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration schema. The agent and server binaries
// share one file format and validate only the sections they use.
type Config struct {
	IntervalSeconds int                `yaml:"interval_seconds"`
	LogLevel        string             `yaml:"log_level"`
	LogFormat       string             `yaml:"log_format"` // "text" or "json"
	Endpoint        EndpointConfig     `yaml:"endpoint"`
	Thresholds      map[string]float64 `yaml:"thresholds"`
	Alerts          AlertsConfig       `yaml:"alerts"`
	Storage         StorageConfig      `yaml:"storage"`
	Server          ServerConfig       `yaml:"server"`
}

// EndpointConfig points the agent at the ingestion service.
type EndpointConfig struct {
	URL        string   `yaml:"url"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
}

// AlertsConfig configures the alert engine and its notification channels.
type AlertsConfig struct {
	CooldownMinutes int         `yaml:"cooldown_minutes"`
	Channels        []string    `yaml:"channels"`
	NotifyRecovery  bool        `yaml:"notify_recovery"`
	SlackWebhook    string      `yaml:"slack_webhook"`
	SlackChannel    string      `yaml:"slack_channel"`
	WebhookURL      string      `yaml:"webhook_url"`
	Email           EmailConfig `yaml:"email"`
}

type EmailConfig struct {
	SMTPAddr string   `yaml:"smtp_addr"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	Backend   string          `yaml:"backend"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type TimescaleConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the ingestion HTTP server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a config with sensible defaults applied. Required keys
// (endpoint URL for the agent, storage selection for the server) deliberately
// stay empty so validation can catch their absence.
func Default() Config {
	return Config{
		IntervalSeconds: 30,
		LogLevel:        "info",
		LogFormat:       "text",
		Endpoint: EndpointConfig{
			Timeout:    Duration(10 * time.Second),
			MaxRetries: 3,
			BaseDelay:  Duration(time.Second),
			MaxDelay:   Duration(30 * time.Second),
		},
		Alerts: AlertsConfig{
			CooldownMinutes: 5,
			Channels:        []string{"log"},
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// load reads and parses the file over the defaults.
func load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadAgent loads configuration for the collection agent and validates the
// sections it requires.
func LoadAgent(path string) (Config, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.validateAgent(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadServer loads configuration for the ingestion server and validates the
// sections it requires.
func LoadServer(path string) (Config, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.validateServer(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validateAgent() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.Endpoint.URL == "" {
		return fmt.Errorf("endpoint.url is required")
	}
	if c.Endpoint.MaxRetries <= 0 {
		return fmt.Errorf("endpoint.max_retries must be positive, got %d", c.Endpoint.MaxRetries)
	}
	return nil
}

func (c Config) validateServer() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite backend")
		}
	case "timescale":
		if c.Storage.Timescale.DSN == "" {
			return fmt.Errorf("storage.timescale.dsn is required for the timescale backend")
		}
	case "":
		return fmt.Errorf("storage.backend is required")
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Alerts.CooldownMinutes <= 0 {
		return fmt.Errorf("alerts.cooldown_minutes must be positive, got %d", c.Alerts.CooldownMinutes)
	}
	for k := range c.Thresholds {
		switch k {
		case "cpu", "memory", "disk", "swap":
		default:
			return fmt.Errorf("unknown threshold metric %q", k)
		}
	}
	return nil
}

// Interval returns the sampling cadence as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Cooldown returns the alert cooldown as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownMinutes) * time.Minute
}
