// Package server exposes the kernel's observation surface to collaborators
// over HTTP/websocket: per-tick state hashes and flushed events stream to
// connected observers, and frame snapshots are served on demand. Nothing in
// here can mutate simulation state; delivery is strictly one-directional.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/simforge/simforge/internal/core/signal"
	"github.com/simforge/simforge/internal/observability/log"
	"github.com/simforge/simforge/internal/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is one JSON frame on the observer stream.
type Message struct {
	Type      string `json:"type"` // "hash" | "event" | "retract"
	Tick      uint64 `json:"tick"`
	Hash      string `json:"hash,omitempty"` // hex, for "hash" messages
	Kind      string `json:"kind,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Retracted bool   `json:"retracted,omitempty"`
}

// Monitor is the desync-monitor feed for one simulation instance.
type Monitor struct {
	sim    *sim.Simulation
	logger *log.Logger
	server *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	subID   string
}

// NewMonitor wires a monitor to a simulation. It subscribes to the event
// stream immediately; retracted events reach observers like any other.
func NewMonitor(s *sim.Simulation, logger *log.Logger) *Monitor {
	m := &Monitor{
		sim:     s,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
	m.subID = s.SubscribeEvents(m.onEvent)
	return m
}

// Start serves the observer endpoints on addr until Stop.
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)
	mux.HandleFunc("/snapshot", m.handleSnapshot)
	mux.HandleFunc("/hash", m.handleHash)
	m.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("monitor server failed", log.Err(err))
		}
	}()
	return nil
}

// Stop shuts the server down and drops the event subscription.
func (m *Monitor) Stop(ctx context.Context) error {
	m.sim.UnsubscribeEvents(m.subID)
	m.mu.Lock()
	for conn := range m.clients {
		_ = conn.Close()
	}
	m.clients = make(map[*websocket.Conn]bool)
	m.mu.Unlock()
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// PublishHash broadcasts the state hash of a finished tick. The run loop
// calls this after every Advance so peers can compare checksums.
func (m *Monitor) PublishHash(tick, hash uint64) {
	m.broadcast(Message{Type: "hash", Tick: tick, Hash: fmt.Sprintf("%016x", hash)})
}

func (m *Monitor) onEvent(ev signal.Event) {
	typ := "event"
	if ev.Retracted {
		typ = "retract"
	}
	m.broadcast(Message{
		Type:      typ,
		Tick:      ev.Tick,
		Seq:       ev.Seq,
		Kind:      string(ev.Kind),
		Payload:   ev.Payload,
		Retracted: ev.Retracted,
	})
}

func (m *Monitor) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("monitor marshal failed", log.Err(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(m.clients, conn)
			_ = conn.Close()
		}
	}
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", log.Err(err))
		return
	}
	m.mu.Lock()
	m.clients[conn] = true
	m.mu.Unlock()
	// observers only receive; drain the read side until the peer leaves
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				m.mu.Lock()
				delete(m.clients, conn)
				m.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}

// handleSnapshot serves a serialized frame, current or historical within the
// retained window, as base64 in a JSON envelope.
func (m *Monitor) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ticks, err := tickParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := m.sim.Frame(ticks...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"snapshot": base64.StdEncoding.EncodeToString(data),
	})
}

func (m *Monitor) handleHash(w http.ResponseWriter, r *http.Request) {
	ticks, err := tickParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := m.sim.StateHash(ticks...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"hash": fmt.Sprintf("%016x", hash),
	})
}

func tickParam(r *http.Request) ([]uint64, error) {
	raw := r.URL.Query().Get("tick")
	if raw == "" {
		return nil, nil
	}
	tick, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad tick %q", raw)
	}
	return []uint64{tick}, nil
}
