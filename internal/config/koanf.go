// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"outrider.yaml",
	"outrider.yml",
	"/etc/outrider/config.yaml",
	"/etc/outrider/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "OUTRIDER_CONFIG"

// envPrefix scopes the environment variables this daemon reads.
const envPrefix = "OUTRIDER_"

// Default returns the built-in defaults: a standalone on-device deployment
// with no broker and the local API on loopback.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Language: "en",
			DataDir:  "/data/outrider",
		},
		Sampler: SamplerConfig{
			MaxFixAgeSeconds: 30,
			MaxAccuracyM:     100,
			MaxSpeedKmh:      160,
		},
		Detection: DetectionConfig{
			HistoryRetention:   10 * time.Minute,
			SpeedLimitKmh:      60,
			FallDeltaThreshold: 25,
			IdleAfter:          5 * time.Minute,
			WellnessInterval:   2 * time.Hour,
		},
		Dialogue: DialogueConfig{
			StartDelay: 500 * time.Millisecond,
			Timeout:    5 * time.Second,
		},
		Fatigue: FatigueConfig{
			NudgeCooldown: 5 * time.Minute,
		},
		Memory: MemoryConfig{
			RetentionDays: 30,
			RemoteSync:    false,
			SyncTimeout:   5 * time.Second,
		},
		WAL: WALConfig{
			SyncWrites:         true,
			EntryTTL:           7 * 24 * time.Hour,
			CompactionInterval: 5 * time.Minute,
		},
		Sink: SinkConfig{
			RetryInterval: 30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
		},
		Notify: NotifyConfig{
			Webhook: WebhookConfig{
				Enabled:     false,
				RateLimitMs: 500,
			},
		},
		Weather: WeatherConfig{
			Enabled:      true,
			PollInterval: 15 * time.Minute,
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8090,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			RateLimitPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// OUTRIDER_* environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps OUTRIDER_SECTION_SOME_KEY to section.some_key: only the
// first underscore becomes a path separator, the rest belong to the key.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// sliceConfigPaths lists paths that accept comma-separated values from the
// environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
