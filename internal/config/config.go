// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package config holds all daemon configuration, loaded in three layers:
// built-in defaults, an optional YAML file, and OUTRIDER_* environment
// variables, each overriding the previous. Config is immutable after Load
// and safe for concurrent reads.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root of the configuration tree.
type Config struct {
	Device    DeviceConfig    `koanf:"device"`
	Sampler   SamplerConfig   `koanf:"sampler"`
	Detection DetectionConfig `koanf:"detection"`
	Dialogue  DialogueConfig  `koanf:"dialogue"`
	Fatigue   FatigueConfig   `koanf:"fatigue"`
	Memory    MemoryConfig    `koanf:"memory"`
	WAL       WALConfig       `koanf:"wal"`
	Sink      SinkConfig      `koanf:"sink"`
	NATS      NATSConfig      `koanf:"nats"`
	Notify    NotifyConfig    `koanf:"notify"`
	Weather   WeatherConfig   `koanf:"weather"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DeviceConfig identifies this device and the rider's language.
type DeviceConfig struct {
	// ID is the stable device identifier used in sync and sink records.
	// Auto-generated and persisted under DataDir when empty.
	ID string `koanf:"id"`

	// Language is the rider's preferred language: en, hi, or ta.
	Language string `koanf:"language"`

	// DataDir is the root for all on-device state.
	DataDir string `koanf:"data_dir"`
}

// SamplerConfig tunes raw sensor normalization.
type SamplerConfig struct {
	MaxFixAgeSeconds int     `koanf:"max_fix_age_seconds"`
	MaxAccuracyM     float64 `koanf:"max_accuracy_m"`
	MaxSpeedKmh      float64 `koanf:"max_speed_kmh"`
}

// DetectionConfig tunes the risk event detectors.
type DetectionConfig struct {
	// HistoryRetention bounds the rolling event history window.
	HistoryRetention time.Duration `koanf:"history_retention"`

	// SpeedLimitKmh is the speed warning threshold.
	SpeedLimitKmh float64 `koanf:"speed_limit_kmh"`

	// FallDeltaThreshold is the acceleration delta that counts as an impact.
	FallDeltaThreshold float64 `koanf:"fall_delta_threshold"`

	// IdleAfter is how long without meaningful motion raises a wellness
	// concern.
	IdleAfter time.Duration `koanf:"idle_after"`

	// WellnessInterval is how often a long ride prompts a check-in.
	WellnessInterval time.Duration `koanf:"wellness_interval"`
}

// DialogueConfig tunes the voice confirmation session.
type DialogueConfig struct {
	StartDelay time.Duration `koanf:"start_delay"`
	Timeout    time.Duration `koanf:"timeout"`
}

// FatigueConfig tunes wellness nudging.
type FatigueConfig struct {
	NudgeCooldown time.Duration `koanf:"nudge_cooldown"`
}

// MemoryConfig configures the location memory store.
type MemoryConfig struct {
	// Path overrides the badger directory; empty derives from DataDir.
	Path string `koanf:"path"`

	// RetentionDays expires cells not triggered in this many days.
	RetentionDays int `koanf:"retention_days"`

	// RemoteSync enables opportunistic cell sync over NATS.
	RemoteSync bool `koanf:"remote_sync"`

	// SyncTimeout bounds one remote upsert round trip.
	SyncTimeout time.Duration `koanf:"sync_timeout"`
}

// WALConfig configures the durable write-ahead log.
type WALConfig struct {
	Path               string        `koanf:"path"`
	SyncWrites         bool          `koanf:"sync_writes"`
	EntryTTL           time.Duration `koanf:"entry_ttl"`
	CompactionInterval time.Duration `koanf:"compaction_interval"`
}

// SinkConfig configures the uplink and the local audit store.
type SinkConfig struct {
	// DuckDBPath locates the analytics store the consumer writes to. Empty
	// disables the local consumer (records still uplink).
	DuckDBPath string `koanf:"duckdb_path"`

	RetryInterval time.Duration `koanf:"retry_interval"`
}

// NATSConfig configures the message transport.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// EmbeddedServer runs an in-process nats-server, for single-binary
	// deployments with no external broker.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
}

// NotifyConfig configures outbound alert delivery beyond the device itself.
type NotifyConfig struct {
	Webhook WebhookConfig `koanf:"webhook"`
}

// WebhookConfig configures the bridge endpoint that receives scored risk
// events and emergency updates.
type WebhookConfig struct {
	Enabled     bool              `koanf:"enabled"`
	URL         string            `koanf:"url"`
	Headers     map[string]string `koanf:"headers"`
	RateLimitMs int               `koanf:"rate_limit_ms"`
}

// WeatherConfig configures the ambient conditions poller.
type WeatherConfig struct {
	Enabled      bool          `koanf:"enabled"`
	BaseURL      string        `koanf:"base_url"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// ServerConfig configures the local HTTP/WebSocket surface.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists allowed origins for the on-device UI.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitPerMinute caps requests per client IP. Zero disables.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks cross-field consistency. Called by Load; callers building
// a Config by hand should call it themselves.
func (c *Config) Validate() error {
	switch c.Device.Language {
	case "en", "hi", "ta":
	case "":
		return fmt.Errorf("device.language is required")
	default:
		return fmt.Errorf("device.language %q not supported (en, hi, ta)", c.Device.Language)
	}
	if c.Device.DataDir == "" {
		return fmt.Errorf("device.data_dir is required")
	}

	if c.Sampler.MaxFixAgeSeconds <= 0 {
		return fmt.Errorf("sampler.max_fix_age_seconds must be positive")
	}
	if c.Sampler.MaxSpeedKmh <= 0 {
		return fmt.Errorf("sampler.max_speed_kmh must be positive")
	}

	if c.Detection.SpeedLimitKmh <= 0 {
		return fmt.Errorf("detection.speed_limit_kmh must be positive")
	}
	if c.Detection.FallDeltaThreshold <= 0 {
		return fmt.Errorf("detection.fall_delta_threshold must be positive")
	}
	if c.Detection.IdleAfter <= 0 {
		return fmt.Errorf("detection.idle_after must be positive")
	}

	if c.Dialogue.Timeout <= c.Dialogue.StartDelay {
		return fmt.Errorf("dialogue.timeout must exceed dialogue.start_delay")
	}

	if c.Memory.RetentionDays <= 0 {
		return fmt.Errorf("memory.retention_days must be positive")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
			return fmt.Errorf("nats.url must use the nats:// or tls:// scheme")
		}
	}
	if c.Memory.RemoteSync && !c.NATS.Enabled {
		return fmt.Errorf("memory.remote_sync requires nats.enabled")
	}

	if c.Notify.Webhook.Enabled {
		if !strings.HasPrefix(c.Notify.Webhook.URL, "http://") && !strings.HasPrefix(c.Notify.Webhook.URL, "https://") {
			return fmt.Errorf("notify.webhook.url must be an http(s) URL when the webhook is enabled")
		}
	}

	if c.Weather.Enabled && c.Weather.PollInterval < time.Minute {
		return fmt.Errorf("weather.poll_interval must be at least 1m")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q invalid (json, console)", c.Logging.Format)
	}

	return nil
}
