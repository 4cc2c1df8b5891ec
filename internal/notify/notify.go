// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify pushes intent status and pool reserve changes to
// connected WebSocket subscribers. Delivery is fire-and-forget: slow or
// absent subscribers never block the solver.
package notify

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/blinklabs-io/mamba/internal/solver"
)

// Event is one notification pushed to subscribers
type Event struct {
	Type      string `json:"type"` // "intent_status" or "pool_reserves"
	Id        string `json:"id"`   // UTxO ref or pool NFT fingerprint
	Status    string `json:"status,omitempty"`
	ReserveA  uint64 `json:"reserveA,omitempty"`
	ReserveB  uint64 `json:"reserveB,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub broadcasts events to WebSocket clients
type Hub struct {
	upgrader websocket.Upgrader
	conns    map[*websocket.Conn]bool
	connsMu  sync.RWMutex
	events   chan *Event
	stopChan chan struct{}
	stopped  bool
	mu       sync.Mutex
}

// NewHub creates a notification hub
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[*websocket.Conn]bool),
		events:   make(chan *Event, 256),
		stopChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkWebSocketOrigin,
		},
	}
}

// Start serves the WebSocket endpoint and begins broadcasting
func (h *Hub) Start(listenAddress string, listenPort uint) error {
	logger := logging.GetLogger()
	go h.broadcastLoop()
	if listenPort == 0 {
		// No listener configured; events are still accepted and dropped
		logger.Debug("notify hub running without listener", "component", "notify")
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", h.HandleEvents)
	addr := fmt.Sprintf("%s:%d", listenAddress, listenPort)
	logger.Info("starting notification listener", "component", "notify", "addr", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error(
				"notification listener failed",
				"component", "notify",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop shuts down the broadcast loop and closes all connections (idempotent)
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	close(h.stopChan)

	h.connsMu.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
	h.connsMu.Unlock()
}

// IntentStatus implements the solver notification sink
func (h *Hub) IntentStatus(ref common.TxOutRef, status solver.IntentStatus) {
	h.publish(&Event{
		Type:      "intent_status",
		Id:        ref.String(),
		Status:    string(status),
		Timestamp: time.Now().UnixMilli(),
	})
}

// PoolReserves implements the solver notification sink
func (h *Hub) PoolReserves(nft common.AssetClass, reserveA, reserveB uint64) {
	h.publish(&Event{
		Type:      "pool_reserves",
		Id:        nft.Fingerprint(),
		ReserveA:  reserveA,
		ReserveB:  reserveB,
		Timestamp: time.Now().UnixMilli(),
	})
}

// publish queues an event, dropping it when the queue is full
func (h *Hub) publish(evt *Event) {
	select {
	case h.events <- evt:
	default:
		logging.GetLogger().Debug(
			"notification queue full, dropping event",
			"component", "notify",
			"type", evt.Type,
			"id", evt.Id,
		)
	}
}

// HandleEvents handles WebSocket subscriber connections
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLogger()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", "component", "notify", "error", err)
		return
	}

	h.connsMu.Lock()
	h.conns[conn] = true
	h.connsMu.Unlock()
	logger.Debug(
		"subscriber connected",
		"component", "notify",
		"remote", conn.RemoteAddr(),
	)

	defer func() {
		h.connsMu.Lock()
		delete(h.conns, conn)
		h.connsMu.Unlock()
		_ = conn.Close()
		logger.Debug(
			"subscriber disconnected",
			"component", "notify",
			"remote", conn.RemoteAddr(),
		)
	}()

	// Drain reads for close handling
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

func (h *Hub) broadcastLoop() {
	logger := logging.GetLogger()
	for {
		select {
		case evt := <-h.events:
			var failed []*websocket.Conn
			h.connsMu.RLock()
			for conn := range h.conns {
				if err := conn.WriteJSON(evt); err != nil {
					failed = append(failed, conn)
				}
			}
			h.connsMu.RUnlock()
			// Drop failed connections outside of the read lock
			if len(failed) > 0 {
				h.connsMu.Lock()
				for _, conn := range failed {
					delete(h.conns, conn)
					_ = conn.Close()
				}
				h.connsMu.Unlock()
				logger.Debug(
					"dropped failed subscribers",
					"component", "notify",
					"count", len(failed),
				)
			}
		case <-h.stopChan:
			return
		}
	}
}

// checkWebSocketOrigin allows non-browser clients, localhost, and
// same-origin connections
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}
	originHost := extractHost(origin)
	if originHost == "" {
		return false
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if !strings.Contains(originHost, ":") {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}
	return originHost == host
}

func extractHost(urlStr string) string {
	if idx := strings.Index(urlStr, "://"); idx != -1 {
		urlStr = urlStr[idx+3:]
	}
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}
