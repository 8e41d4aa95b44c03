// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vestat/pkg/register"
)

const (
	writeWait  = 10 * time.Second
	clientSend = 64
)

// Change is a register change sent to stream clients.
type Change struct {
	Register  string         `json:"register"`
	Value     register.Value `json:"value"`
	Old       register.Value `json:"old"`
	Precision int            `json:"precision"`
	Time      time.Time      `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams register changes to WebSocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log:     logger,
		clients: make(map[*client]struct{}),
	}
}

// Listener returns a directory listener broadcasting every change. Slow
// clients miss changes rather than stall the caller.
func (h *Hub) Listener() func(name string, newValue, oldValue register.Value, precision int) {
	return func(name string, newValue, oldValue register.Value, precision int) {
		data, err := json.Marshal(Change{
			Register:  name,
			Value:     newValue,
			Old:       oldValue,
			Precision: precision,
			Time:      time.Now(),
		})
		if err != nil {
			h.log.Error().Err(err).Str("register", name).Msg("failed to encode change")
			return
		}
		h.broadcast(data)
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams changes until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSend)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// the reader only notices the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer h.remove(c)
	for {
		select {
		case <-done:
			return
		case data, ok := <-c.send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
