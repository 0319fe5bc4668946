// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package api is the local HTTP surface the on-device UI talks to: ride
// lifecycle, live status, recent events, learned cells, the emergency
// buttons, and the websocket feed. It binds to loopback by default and is
// not an internet-facing API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outrider-app/outrider/internal/config"
	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/locmem"
	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/pipeline"
	"github.com/outrider-app/outrider/internal/websocket"
)

// Router owns the HTTP surface and its collaborators.
type Router struct {
	cfg      config.ServerConfig
	loop     *pipeline.Loop
	engine   *detection.Engine
	memory   *locmem.Store
	hub      *websocket.Hub
	upgrader gws.Upgrader
}

// New creates the router. memory and hub may be nil; their endpoints then
// answer 503.
func New(cfg config.ServerConfig, loop *pipeline.Loop, engine *detection.Engine, memory *locmem.Store, hub *websocket.Hub) *Router {
	return &Router{
		cfg:    cfg,
		loop:   loop,
		engine: engine,
		memory: memory,
		hub:    hub,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.CORSOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.CORSOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Handler assembles the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if len(rt.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			MaxAge:           300,
			AllowCredentials: false,
		}))
	}

	r.Get("/healthz", rt.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(rt.cfg.RateLimitPerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(observeRequests)

		r.Get("/health", rt.handleHealth)
		r.Get("/status", rt.handleStatus)
		r.Get("/events", rt.handleEvents)
		r.Get("/cells", rt.handleCells)

		r.Post("/ride/start", rt.handleRideStart)
		r.Post("/ride/stop", rt.handleRideStop)

		r.Post("/emergency", rt.handleEmergencyTrigger)
		r.Post("/emergency/cancel", rt.handleEmergencyCancel)
		r.Post("/emergency/resolve", rt.handleEmergencyResolve)

		r.Put("/detectors/{type}", rt.handleDetectorUpdate)

		r.Get("/ws", rt.handleWebSocket)
	})

	return r
}

// Serve runs the HTTP server until the context ends. Implements
// suture.Service.
func (rt *Router) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", rt.cfg.Host, rt.cfg.Port),
		Handler:      rt.Handler(),
		ReadTimeout:  rt.cfg.ReadTimeout,
		WriteTimeout: rt.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("local API listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// String names the service in the supervision tree.
func (rt *Router) String() string { return "http-api" }

// observeRequests records per-route request metrics using the chi route
// pattern, not the raw path, to bound label cardinality.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		metrics.ObserveAPIRequest(r.Method, endpoint, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
