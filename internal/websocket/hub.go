// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package websocket pushes live safety state to the on-device UI: scored
// risk events, fatigue band changes, and emergency countdown updates. A hub
// fans messages out to connected clients; slow clients are dropped rather
// than allowed to stall a broadcast.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/outrider-app/outrider/internal/emergency"
	"github.com/outrider-app/outrider/internal/fatigue"
	"github.com/outrider-app/outrider/internal/logging"
	"github.com/outrider-app/outrider/internal/metrics"
	"github.com/outrider-app/outrider/internal/scoring"
)

// Message types pushed to the UI.
const (
	MessageTypeRiskEvent = "risk_event"
	MessageTypeFatigue   = "fatigue_update"
	MessageTypeEmergency = "emergency_update"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Message is the envelope every frame uses.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// emergencyUpdate pairs the emergency state with the countdown position.
type emergencyUpdate struct {
	Event     emergency.Event `json:"event"`
	Remaining int             `json:"remaining_seconds"`
}

// Hub maintains the set of connected clients and broadcasts to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
}

// NewHub creates an empty hub. Serve must run for clients to connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// BroadcastRiskEvent pushes a scored event. Safe from any goroutine; drops
// when the hub's queue is full.
func (h *Hub) BroadcastRiskEvent(event *scoring.ScoredRiskEvent) {
	h.send(Message{Type: MessageTypeRiskEvent, Data: event})
}

// BroadcastFatigue pushes a fatigue state change.
func (h *Hub) BroadcastFatigue(state fatigue.State) {
	h.send(Message{Type: MessageTypeFatigue, Data: state})
}

// BroadcastEmergency pushes an emergency lifecycle update.
func (h *Hub) BroadcastEmergency(event emergency.Event, remaining int) {
	h.send(Message{Type: MessageTypeEmergency, Data: emergencyUpdate{Event: event, Remaining: remaining}})
}

func (h *Hub) send(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		logging.Debug().Str("type", msg.Type).Msg("websocket broadcast dropped, queue full")
	}
}

// Serve runs the hub until the context ends, then closes every client.
// Implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Lifecycle events win over broadcasts so client state is settled
		// before a message fans out.
		select {
		case client := <-h.register:
			h.add(client)
			continue
		case client := <-h.unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// String names the service in the supervision tree.
func (h *Hub) String() string { return "websocket-hub" }

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSActiveConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSActiveConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// fanOut delivers to clients in id order so delivery is deterministic. A
// client whose queue is full is disconnected instead of blocking the rest.
func (h *Hub) fanOut(msg Message) {
	h.mu.RLock()
	ordered := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		ordered = append(ordered, client)
	}
	h.mu.RUnlock()
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	for _, client := range ordered {
		select {
		case client.send <- msg:
		default:
			h.remove(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	metrics.WSActiveConnections.Set(0)
	logging.Info().Int("clients_closed", count).Msg("websocket hub stopped")
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
