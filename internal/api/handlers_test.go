// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/config"
	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/fatigue"
	"github.com/outrider-app/outrider/internal/notify"
	"github.com/outrider-app/outrider/internal/pipeline"
	"github.com/outrider-app/outrider/internal/scoring"
	"github.com/outrider-app/outrider/internal/telemetry"
	"github.com/outrider-app/outrider/internal/timeutil"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	engine := detection.NewEngine(detection.NewHistory(10*time.Minute), notify.Noop{})
	engine.RegisterDetector(detection.NewSpeedDetector())
	engine.RegisterDetector(detection.NewFallDetector())

	loop := pipeline.New(pipeline.Options{
		Clock:     timeutil.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		Sampler:   telemetry.NewSampler(telemetry.DefaultSamplerConfig()),
		Engine:    engine,
		Scorer:    scoring.NewScorer(nil),
		Estimator: fatigue.NewEstimator(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg := config.Default().Server
	cfg.RateLimitPerMinute = 0
	router := New(cfg, loop, engine, nil, nil)

	server := httptest.NewServer(router.Handler())
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, server *httptest.Server, method, path, body string) (int, Response) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, envelope
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	code, envelope := doRequest(t, server, http.MethodGet, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if envelope.Status != "ok" {
		t.Fatalf("envelope status = %s", envelope.Status)
	}
}

func TestRideLifecycleEndpoints(t *testing.T) {
	server := newTestServer(t)

	code, envelope := doRequest(t, server, http.MethodPost, "/api/v1/ride/start", "")
	if code != http.StatusCreated {
		t.Fatalf("start = %d, want 201", code)
	}
	data := envelope.Data.(map[string]interface{})
	if data["ride_id"] == "" {
		t.Fatal("expected a ride id")
	}

	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/ride/start", ""); code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", code)
	}

	code, envelope = doRequest(t, server, http.MethodGet, "/api/v1/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	status := envelope.Data.(map[string]interface{})
	if status["ride_active"] != true {
		t.Fatal("expected an active ride in status")
	}

	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/ride/stop", ""); code != http.StatusOK {
		t.Fatalf("stop = %d, want 200", code)
	}
	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/ride/stop", ""); code != http.StatusConflict {
		t.Fatalf("second stop = %d, want 409", code)
	}
}

func TestEmergencyEndpoints(t *testing.T) {
	server := newTestServer(t)

	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/emergency", ""); code != http.StatusCreated {
		t.Fatalf("trigger = %d, want 201", code)
	}
	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/emergency", ""); code != http.StatusConflict {
		t.Fatalf("second trigger = %d, want 409", code)
	}
	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/emergency/cancel", ""); code != http.StatusOK {
		t.Fatalf("cancel = %d, want 200", code)
	}
	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/emergency/cancel", ""); code != http.StatusConflict {
		t.Fatalf("second cancel = %d, want 409", code)
	}
	if code, _ := doRequest(t, server, http.MethodPost, "/api/v1/emergency/resolve", ""); code != http.StatusConflict {
		t.Fatalf("resolve without active = %d, want 409", code)
	}
}

func TestEventsLimitValidation(t *testing.T) {
	server := newTestServer(t)

	if code, _ := doRequest(t, server, http.MethodGet, "/api/v1/events", ""); code != http.StatusOK {
		t.Fatalf("default limit = %d, want 200", code)
	}
	if code, _ := doRequest(t, server, http.MethodGet, "/api/v1/events?limit=0", ""); code != http.StatusBadRequest {
		t.Fatalf("limit 0 = %d, want 400", code)
	}
	if code, _ := doRequest(t, server, http.MethodGet, "/api/v1/events?limit=xyz", ""); code != http.StatusBadRequest {
		t.Fatalf("limit xyz = %d, want 400", code)
	}
	if code, _ := doRequest(t, server, http.MethodGet, "/api/v1/events?limit=501", ""); code != http.StatusBadRequest {
		t.Fatalf("limit 501 = %d, want 400", code)
	}
}

func TestDetectorUpdateEndpoint(t *testing.T) {
	server := newTestServer(t)

	code, envelope := doRequest(t, server, http.MethodPut, "/api/v1/detectors/speed_warning",
		`{"config": {"limit_kmh": 80, "severity": "medium"}, "enabled": true}`)
	if code != http.StatusOK {
		t.Fatalf("update = %d, want 200 (%+v)", code, envelope.Error)
	}

	if code, _ := doRequest(t, server, http.MethodPut, "/api/v1/detectors/nonexistent", `{}`); code != http.StatusNotFound {
		t.Fatalf("unknown detector = %d, want 404", code)
	}

	if code, _ := doRequest(t, server, http.MethodPut, "/api/v1/detectors/speed_warning",
		`{"config": {"limit_kmh": -5}}`); code != http.StatusBadRequest {
		t.Fatalf("bad config = %d, want 400", code)
	}
}

func TestCellsWithoutMemoryStore(t *testing.T) {
	server := newTestServer(t)
	if code, _ := doRequest(t, server, http.MethodGet, "/api/v1/cells", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("cells = %d, want 503", code)
	}
}
