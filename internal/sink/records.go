// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package sink is the append-only audit trail: ride sessions, scored risk
// events, and emergency lifecycle records. Records are written to the local
// WAL first and published to the uplink when connectivity allows; the
// remote side upserts by record id, so retries are idempotent.
package sink

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/outrider-app/outrider/internal/emergency"
	"github.com/outrider-app/outrider/internal/scoring"
)

// Kind discriminates record payloads.
type Kind string

const (
	KindRideSession Kind = "ride_session"
	KindRiskEvent   Kind = "risk_event"
	KindEmergency   Kind = "emergency_event"
)

// Topic is the uplink subject records are published on.
const Topic = "outrider.records"

// Record is the envelope shared by every sink payload.
type Record struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	DeviceID  string          `json:"device_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// RideSession marks a ride boundary. EndedAt is nil while the ride runs;
// the end-of-ride record reuses the session id so the upsert completes the
// same row.
type RideSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NewRecord wraps a payload into an envelope. The payload's own id becomes
// the record id so replays upsert instead of duplicating.
func NewRecord(id string, kind Kind, deviceID string, payload interface{}) (*Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:        id,
		Kind:      kind,
		DeviceID:  deviceID,
		CreatedAt: time.Now().UTC(),
		Payload:   body,
	}, nil
}

// RiskEventRecord builds the envelope for a scored risk event.
func RiskEventRecord(deviceID string, event *scoring.ScoredRiskEvent) (*Record, error) {
	return NewRecord(event.ID, KindRiskEvent, deviceID, event)
}

// EmergencyRecord builds the envelope for an emergency lifecycle state.
func EmergencyRecord(deviceID string, event *emergency.Event) (*Record, error) {
	return NewRecord(event.ID, KindEmergency, deviceID, event)
}

// SessionRecord builds the envelope for a ride session boundary.
func SessionRecord(deviceID string, session *RideSession) (*Record, error) {
	return NewRecord(session.ID, KindRideSession, deviceID, session)
}
