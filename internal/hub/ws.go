// ABOUTME: WebSocket endpoint for agent connections at /ws/agent/{agent_id}.
// ABOUTME: Owns the per-session receive loop and the write-safe conn wrapper.

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/edgebrain/mcp-hub/internal/auth"
	"github.com/edgebrain/mcp-hub/internal/protocol"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 1024 * 1024
)

const timeFormat = time.RFC3339Nano

// parseTimestamp accepts RFC3339 timestamps and the zone-less ISO form some
// agents emit. Anything unparseable falls back to receipt time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true }, // agents, not browsers
}

// wsConn wraps a websocket connection with a write mutex so concurrent
// sends from the router, supervisor fan-out, and REST handlers stay whole.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteJSON implements session.Conn.
func (c *wsConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements session.Conn.
func (c *wsConn) Close() error {
	return c.conn.Close()
}

// handleAgentWS upgrades an agent's connection and runs its receive loop
// until the transport fails or closes. A slow or stuck peer only ever
// blocks its own goroutine.
func (h *Hub) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	if agentID == "" {
		http.Error(w, "agent_id required", http.StatusBadRequest)
		return
	}

	if h.verifier != nil {
		if _, err := h.verifier.Verify(auth.FromRequest(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "agent_id", agentID, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	wc := &wsConn{conn: conn}
	if stale := h.registry.Connect(agentID, wc); stale != nil {
		h.logger.Warn("agent reconnect, closing previous connection", "agent_id", agentID)
		_ = stale.Close()
	}
	h.metrics.AgentsConnected.Set(float64(h.registry.CountConnected()))

	if err := wc.WriteJSON(protocol.ConnectionEstablished{
		Type:       protocol.KindConnectionEstablished,
		AgentID:    agentID,
		ServerTime: protocol.Now(),
		Message:    "connection established",
	}); err != nil {
		h.logger.Warn("greeting failed", "agent_id", agentID, "error", err)
		h.dropSession(agentID, wc)
		return
	}

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("agent connection closed", "agent_id", agentID, "error", err)
			h.dropSession(agentID, wc)
			return
		}
		h.router.HandleMessage(ctx, agentID, raw)
	}
}

// dropSession tears a session down after a transport failure or clean
// close, broadcasts agent_left, and marks the agent offline durably. Safe
// against double invocation: only the caller that actually flips the
// session announces the departure. The conn identity check keeps a stale
// receive loop, closed out by a reconnect, from evicting the new session.
func (h *Hub) dropSession(agentID string, conn *wsConn) {
	_ = conn.Close()
	if !h.registry.DisconnectConn(agentID, conn) {
		return // superseded by a reconnect, or already evicted
	}
	h.metrics.AgentsConnected.Set(float64(h.registry.CountConnected()))

	h.router.Broadcast(protocol.AgentLeft{
		Type:      protocol.KindAgentLeft,
		AgentID:   agentID,
		Timestamp: protocol.Now(),
	}, agentID)

	if err := h.facade.SetAgentStatus(context.Background(), agentID, "offline"); err != nil {
		h.logger.Warn("marking agent offline failed", "agent_id", agentID, "error", err)
	}
}
