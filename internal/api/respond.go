// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/logging"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     *Error      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Error carries a machine-readable code and a human-readable message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&Response{
		Status:    "ok",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Error().Err(err).Msg("response marshal failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Debug().Err(err).Msg("response write failed")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&Response{
		Status:    "error",
		Error:     &Error{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}
