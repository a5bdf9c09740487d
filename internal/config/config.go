// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quantfleet/fleetd/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full control-plane configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Stream      StreamConfig      `yaml:"stream"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds control API server settings.
type ServerConfig struct {
	Port               int `yaml:"port"`
	ReadTimeoutSec     int `yaml:"read_timeout_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig holds revaluation scheduler settings.
type SchedulerConfig struct {
	CadenceSec int `yaml:"cadence_sec"`
}

// StreamConfig holds position stream settings.
type StreamConfig struct {
	KeepaliveSec int `yaml:"keepalive_sec"`
}

// HeartbeatConfig holds heartbeat executor settings.
type HeartbeatConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// OptimizerConfig holds optimization executor settings.
type OptimizerConfig struct {
	MinSamples   int `yaml:"min_samples"`
	TimeoutSec   int `yaml:"timeout_sec"`
	HistoryLimit int `yaml:"history_limit"`
	HistoryCap   int `yaml:"history_cap"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with sensible defaults for local use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeoutSec:     10,
			ShutdownTimeoutSec: 15,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Persistence: PersistenceConfig{
			Path: "fleetd.db",
		},
		Scheduler: SchedulerConfig{
			CadenceSec: 10,
		},
		Stream: StreamConfig{
			KeepaliveSec: 15,
		},
		Heartbeat: HeartbeatConfig{
			TimeoutSec: 30,
		},
		Optimizer: OptimizerConfig{
			MinSamples:   30,
			TimeoutSec:   300,
			HistoryLimit: 20,
			HistoryCap:   200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
// Environment variables in the form $VAR or ${VAR} are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.RateLimitPerSecond <= 0 {
		errs = append(errs, "server.rate_limit_per_second must be positive")
	}
	if c.Server.RateLimitBurst < c.Server.RateLimitPerSecond {
		errs = append(errs, "server.rate_limit_burst must be at least rate_limit_per_second")
	}

	if c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required")
	}

	if c.Scheduler.CadenceSec <= 0 {
		errs = append(errs, "scheduler.cadence_sec must be positive")
	}

	if c.Stream.KeepaliveSec <= 0 {
		errs = append(errs, "stream.keepalive_sec must be positive")
	}

	if c.Heartbeat.TimeoutSec <= 0 {
		errs = append(errs, "heartbeat.timeout_sec must be positive")
	}

	if c.Optimizer.MinSamples < 0 {
		errs = append(errs, "optimizer.min_samples must not be negative")
	}
	if c.Optimizer.TimeoutSec <= 0 {
		errs = append(errs, "optimizer.timeout_sec must be positive")
	}
	if c.Optimizer.HistoryLimit <= 0 {
		errs = append(errs, "optimizer.history_limit must be positive")
	}
	if c.Optimizer.HistoryCap < c.Optimizer.HistoryLimit {
		errs = append(errs, "optimizer.history_cap must be at least history_limit")
	}

	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown type '%s'", i, ch.Type))
			}
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, "metrics.port must be between 1 and 65535")
		}
		if c.Metrics.Port == c.Server.Port {
			errs = append(errs, "metrics.port must differ from server.port")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// Cadence returns the scheduler tick interval.
func (c *Config) Cadence() time.Duration {
	return time.Duration(c.Scheduler.CadenceSec) * time.Second
}

// StreamKeepalive returns the stream keepalive interval.
func (c *Config) StreamKeepalive() time.Duration {
	return time.Duration(c.Stream.KeepaliveSec) * time.Second
}

// HeartbeatTimeout returns the heartbeat check timeout.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Heartbeat.TimeoutSec) * time.Second
}

// OptimizerTimeout returns the optimization run timeout.
func (c *Config) OptimizerTimeout() time.Duration {
	return time.Duration(c.Optimizer.TimeoutSec) * time.Second
}

// ReadTimeout returns the API server read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

// ShutdownTimeout returns the API server shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
