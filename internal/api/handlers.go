// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/detection"
	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/pipeline"
	"github.com/outrider-app/outrider/internal/websocket"
)

var validate = validator.New()

const maxRequestBody = 64 * 1024

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"state": "healthy"})
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.loop.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "status_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type eventsQuery struct {
	Limit int `validate:"gte=1,lte=500"`
}

func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := eventsQuery{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		query.Limit = limit
	}
	if err := validate.Struct(query); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return
	}

	events := rt.engine.History().Recent(query.Limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (rt *Router) handleCells(w http.ResponseWriter, r *http.Request) {
	if rt.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "memory_disabled", "location memory is not configured")
		return
	}
	cells, err := rt.memory.Cells()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cells_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cells": cells,
		"count": len(cells),
	})
}

func (rt *Router) handleRideStart(w http.ResponseWriter, r *http.Request) {
	rideID, err := rt.loop.StartRide(r.Context())
	if errors.Is(err, pipeline.ErrRideActive) {
		respondError(w, http.StatusConflict, "ride_active", "a ride is already in progress")
		return
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "ride_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"ride_id": rideID})
}

func (rt *Router) handleRideStop(w http.ResponseWriter, r *http.Request) {
	err := rt.loop.StopRide(r.Context())
	if errors.Is(err, pipeline.ErrNoRide) {
		respondError(w, http.StatusConflict, "no_ride", "no ride is in progress")
		return
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "ride_stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": "stopped"})
}

func (rt *Router) handleEmergencyTrigger(w http.ResponseWriter, r *http.Request) {
	if err := rt.loop.TriggerEmergency(r.Context()); err != nil {
		respondError(w, http.StatusConflict, "emergency_active", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"state": "countdown"})
}

func (rt *Router) handleEmergencyCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := rt.loop.CancelEmergency(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "cancel_failed", err.Error())
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "not_cancellable", "no countdown to cancel")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": "false_alarm"})
}

func (rt *Router) handleEmergencyResolve(w http.ResponseWriter, r *http.Request) {
	resolved, err := rt.loop.ResolveEmergency(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "resolve_failed", err.Error())
		return
	}
	if !resolved {
		respondError(w, http.StatusConflict, "not_resolvable", "no active emergency to resolve")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": "resolved"})
}

// detectorUpdateRequest tunes one detector at runtime. Config is passed
// through to the detector's own validation.
type detectorUpdateRequest struct {
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config" validate:"omitempty,json"`
}

func (rt *Router) handleDetectorUpdate(w http.ResponseWriter, r *http.Request) {
	riskType := detection.RiskType(chi.URLParam(r, "type"))
	detector, ok := rt.engine.Detector(riskType)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_detector", "no detector for type "+string(riskType))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "body_unreadable", err.Error())
		return
	}
	var req detectorUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	if len(req.Config) > 0 {
		if err := rt.engine.ConfigureDetector(riskType, req.Config); err != nil {
			respondError(w, http.StatusBadRequest, "config_rejected", err.Error())
			return
		}
	}
	if req.Enabled != nil {
		detector.SetEnabled(*req.Enabled)
	}

	logging.Info().Str("detector", string(riskType)).Msg("detector updated")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"type":    riskType,
		"enabled": detector.Enabled(),
	})
}

func (rt *Router) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if rt.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "ws_disabled", "websocket hub is not running")
		return
	}
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	websocket.NewClient(rt.hub, conn).Start()
}
