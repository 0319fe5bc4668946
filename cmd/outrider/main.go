// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package main is the entry point for the Outrider on-device daemon.
//
// Outrider monitors a delivery rider's motion and location sensors, detects
// risk events (falls, sudden stops, speeding, long idling), scores them
// against learned location memory, runs a voice confirmation challenge, and
// escalates unresolved incidents to an emergency state machine. Everything
// runs on the rider's device; the cloud sink is an optional uplink.
//
// # Initialization Order
//
//  1. Configuration: built-in defaults, optional YAML file, OUTRIDER_* env
//  2. Logging: zerolog, level and format from config
//  3. Device identity: stable UUID persisted under the data directory
//  4. NATS transport (optional): embedded nats-server or external broker
//  5. Stores: location memory (BadgerDB), record WAL (BadgerDB), DuckDB
//     record consumer when a local analytics store is configured
//  6. Detection engine, risk scorer, fatigue estimator, sensor pipeline
//  7. Supervisor tree: data, pipeline, and API layers under suture
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the supervisor tree stops
// its services with the configured timeout, then stores and the embedded
// broker are closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/outrider-app/outrider/internal/api"
	"github.com/outrider-app/outrider/internal/config"
	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/dialogue"
	"github.com/outrider-app/outrider/internal/emergency"
	"github.com/outrider-app/outrider/internal/fatigue"
	"github.com/outrider-app/outrider/internal/locmem"
	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/pipeline"
	"github.com/outrider-app/outrider/internal/scoring"
	"github.com/outrider-app/outrider/internal/sink"
	"github.com/outrider-app/outrider/internal/supervisor"
	"github.com/outrider-app/outrider/internal/telemetry"
	"github.com/outrider-app/outrider/internal/wal"
	"github.com/outrider-app/outrider/internal/weather"
	ws "github.com/outrider-app/outrider/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("language", cfg.Device.Language).
		Str("data_dir", cfg.Device.DataDir).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting Outrider")

	deviceID, err := ensureDeviceID(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to establish device identity")
	}
	logging.Info().Str("device_id", deviceID).Msg("Device identity established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// NATS transport (optional). The embedded server gives single-binary
	// deployments a local JetStream broker.
	var embedded *sink.EmbeddedServer
	natsURL := cfg.NATS.URL
	if cfg.NATS.Enabled && cfg.NATS.EmbeddedServer {
		embedded, err = sink.NewEmbeddedServer(sink.ServerConfig{
			Host:     "127.0.0.1",
			Port:     4222,
			StoreDir: cfg.NATS.StoreDir,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	var natsConn *natsgo.Conn
	if cfg.NATS.Enabled {
		natsConn, err = natsgo.Connect(natsURL,
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Close()
		logging.Info().Str("url", natsURL).Msg("NATS connection established")
	} else {
		logging.Info().Msg("NATS uplink disabled, records stay in the local WAL")
	}

	// Location memory, with opportunistic remote sync when the broker is up.
	var syncer locmem.Syncer
	if cfg.Memory.RemoteSync && natsConn != nil {
		syncer = locmem.NewNATSSyncer(natsConn)
		logging.Info().Msg("Remote location memory sync enabled")
	}
	memory, err := locmem.Open(locmem.Config{
		Path:        pathOr(cfg.Memory.Path, filepath.Join(cfg.Device.DataDir, "memory")),
		DeviceID:    deviceID,
		Retention:   time.Duration(cfg.Memory.RetentionDays) * 24 * time.Hour,
		SyncTimeout: cfg.Memory.SyncTimeout,
	}, syncer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open location memory")
	}
	defer func() {
		if err := memory.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing location memory")
		}
	}()

	// Durable record WAL and the uplink publisher on top of it.
	recordWAL, err := wal.Open(wal.Config{
		Path:               pathOr(cfg.WAL.Path, filepath.Join(cfg.Device.DataDir, "wal")),
		SyncWrites:         cfg.WAL.SyncWrites,
		EntryTTL:           cfg.WAL.EntryTTL,
		CompactionInterval: cfg.WAL.CompactionInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open record WAL")
	}
	defer func() {
		if err := recordWAL.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing record WAL")
		}
	}()

	sinkCfg := sink.PublisherConfig{
		URL:                natsURL,
		RetryInterval:      cfg.Sink.RetryInterval,
		CompactionInterval: cfg.WAL.CompactionInterval,
	}
	var uplink message.Publisher
	if cfg.NATS.Enabled {
		uplink, err = sink.NewNATSPublisher(sinkCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create uplink publisher")
		}
	}
	recorder := sink.NewPublisher(recordWAL, uplink, sinkCfg)
	defer func() {
		if err := recorder.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing sink publisher")
		}
	}()

	// Local analytics consumer: replays uplinked records into DuckDB.
	var consumer *sink.Consumer
	if cfg.NATS.Enabled && cfg.Sink.DuckDBPath != "" {
		subscriber, err := sink.NewNATSSubscriber(sinkCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create record subscriber")
		}
		consumer, err = sink.NewConsumer(cfg.Sink.DuckDBPath, subscriber)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open analytics store")
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing analytics store")
			}
		}()
		logging.Info().Str("path", cfg.Sink.DuckDBPath).Msg("Record consumer enabled")
	}

	// The device voice/haptic bridge is platform-provided and attaches here;
	// until one does, output is silent. Pacing applies either way so a burst
	// of detections never queues overlapping speech.
	var deviceNotifier notify.Notifier = notify.NewPaced(notify.Noop{}, 0, 0)

	engine := detection.NewEngine(detection.NewHistory(cfg.Detection.HistoryRetention), deviceNotifier)
	engine.RegisterDetector(detection.NewSpeedDetector())
	engine.RegisterDetector(detection.NewSuddenStopDetector())
	engine.RegisterDetector(detection.NewFallDetector())
	engine.RegisterDetector(detection.NewIdleDetector())
	if err := applyDetectionConfig(engine, cfg.Detection); err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure detectors")
	}

	scorer := scoring.NewScorer(memory)
	estimator := fatigue.NewEstimator()
	nudger := fatigue.NewNudger(deviceNotifier, cfg.Device.Language)
	if cfg.Fatigue.NudgeCooldown > 0 {
		nudger.SetCooldown(cfg.Fatigue.NudgeCooldown)
	}
	sampler := telemetry.NewSampler(telemetry.SamplerConfig{
		MaxFixAgeSeconds: cfg.Sampler.MaxFixAgeSeconds,
		MaxAccuracyM:     cfg.Sampler.MaxAccuracyM,
		MaxSpeedKmh:      cfg.Sampler.MaxSpeedKmh,
	})

	hub := ws.NewHub()

	var webhook *notify.WebhookNotifier
	if cfg.Notify.Webhook.Enabled {
		webhook = notify.NewWebhookNotifier(notify.WebhookConfig{
			WebhookURL:  cfg.Notify.Webhook.URL,
			Headers:     cfg.Notify.Webhook.Headers,
			Enabled:     true,
			RateLimitMs: cfg.Notify.Webhook.RateLimitMs,
		})
		logging.Info().Str("url", cfg.Notify.Webhook.URL).Msg("Webhook notifier enabled")
	}

	loop := pipeline.New(pipeline.Options{
		DeviceID: deviceID,
		Language: cfg.Device.Language,

		Sampler:   sampler,
		Engine:    engine,
		Scorer:    scorer,
		Estimator: estimator,
		Nudger:    nudger,
		Memory:    memory,
		Notifier:  deviceNotifier,
		Recorder:  recorder,

		// The speech listener is a platform bridge too. Without one,
		// confirmation sessions are skipped and fall events escalate on the
		// grace timer alone.
		Listener: nil,

		Dialogue: dialogue.Config{
			Language:   cfg.Device.Language,
			StartDelay: cfg.Dialogue.StartDelay,
			Timeout:    cfg.Dialogue.Timeout,
		},

		WellnessInterval: cfg.Detection.WellnessInterval,

		OnScored: func(event *scoring.ScoredRiskEvent) {
			hub.BroadcastRiskEvent(event)
			sendWebhook(webhook, "risk_event", event)
		},
		OnFatigue: hub.BroadcastFatigue,
		OnEmergency: func(event emergency.Event, remaining int) {
			hub.BroadcastEmergency(event, remaining)
			sendWebhook(webhook, "emergency_event", event)
		},
	})

	var poller *weather.Poller
	if cfg.Weather.Enabled {
		provider := weather.NewOpenMeteoProvider(cfg.Weather.BaseURL)
		poller = weather.NewPoller(provider, func() (telemetry.Position, bool) {
			posCtx, done := context.WithTimeout(ctx, 2*time.Second)
			defer done()
			return loop.LastPosition(posCtx)
		}, loop.OnWeather, cfg.Weather.PollInterval)
		logging.Info().Dur("interval", cfg.Weather.PollInterval).Msg("Weather poller enabled")
	}

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(recorder)
	if consumer != nil {
		tree.AddDataService(consumer)
	}
	tree.AddDataService(locmem.NewJanitor(memory, locmem.DefaultSweepInterval))

	tree.AddPipelineService(loop)
	tree.AddPipelineService(hub)
	if poller != nil {
		tree.AddPipelineService(poller)
	}

	router := api.New(cfg.Server, loop, engine, memory, hub)
	tree.AddAPIService(router)
	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("HTTP API added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if embedded != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
		done()
	}

	logging.Info().Msg("Outrider stopped")
}

// ensureDeviceID returns the configured device id, or generates one and
// persists it under the data directory so the identity survives restarts.
func ensureDeviceID(cfg *config.Config) (string, error) {
	if cfg.Device.ID != "" {
		return cfg.Device.ID, nil
	}

	//nolint:gosec // 0o750: the data dir holds rider location history
	if err := os.MkdirAll(cfg.Device.DataDir, 0o750); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	idPath := filepath.Join(cfg.Device.DataDir, "device_id")
	if data, err := os.ReadFile(idPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// pathOr returns override when set, fallback otherwise.
func pathOr(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// applyDetectionConfig pushes config thresholds into the registered
// detectors through the same path the HTTP API uses.
func applyDetectionConfig(engine *detection.Engine, cfg config.DetectionConfig) error {
	updates := map[detection.RiskType]any{
		detection.RiskSpeedWarning: map[string]any{"limit_kmh": cfg.SpeedLimitKmh},
		detection.RiskFallDetected: map[string]any{"delta_threshold": cfg.FallDeltaThreshold},
		detection.RiskLongIdle:     map[string]any{"idle_after": cfg.IdleAfter},
	}
	for riskType, update := range updates {
		data, err := json.Marshal(update)
		if err != nil {
			return fmt.Errorf("marshal %s config: %w", riskType, err)
		}
		if err := engine.ConfigureDetector(riskType, data); err != nil {
			return fmt.Errorf("configure %s: %w", riskType, err)
		}
	}
	return nil
}

// sendWebhook fires a webhook delivery without blocking the pipeline loop.
func sendWebhook(webhook *notify.WebhookNotifier, eventType string, body interface{}) {
	if webhook == nil {
		return
	}
	go func() {
		ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := webhook.Send(ctx, eventType, body); err != nil {
			logging.Debug().Err(err).Str("event_type", eventType).Msg("webhook delivery failed")
		}
	}()
}
