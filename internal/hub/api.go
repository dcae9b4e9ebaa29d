// ABOUTME: REST mirror for non-connection-capable callers (automation, curl, n8n).
// ABOUTME: Thin synchronous adapters over the same router handlers as the WS path.

package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/edgebrain/mcp-hub/internal/protocol"
	"github.com/edgebrain/mcp-hub/internal/session"
)

// Version is stamped at build time by the linker.
var Version = "dev"

// RootResponse is the JSON body for GET /.
type RootResponse struct {
	Service         string `json:"service"`
	Version         string `json:"version"`
	Status          string `json:"status"`
	AgentsConnected int    `json:"agents_connected"`
	Timestamp       string `json:"timestamp"`
}

// HealthResponse is the JSON body for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Cache           string `json:"cache"`
	Database        string `json:"database"`
	AgentsConnected int    `json:"agents_connected"`
	Timestamp       string `json:"timestamp"`
}

// AgentStatusResponse is one entry in GET /agents/status.
type AgentStatusResponse struct {
	AgentID          string `json:"agent_id"`
	AgentType        string `json:"agent_type,omitempty"`
	Status           string `json:"status"`
	ConnectedAt      string `json:"connected_at,omitempty"`
	DisconnectedAt   string `json:"disconnected_at,omitempty"`
	Reconnected      bool   `json:"reconnected"`
	ReconnectCount   int    `json:"reconnect_count"`
	LastHeartbeatAgo *int   `json:"last_heartbeat_seconds_ago,omitempty"`
}

func (h *Hub) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Service:         "mcp-hub",
		Version:         Version,
		Status:          "running",
		AgentsConnected: h.registry.CountConnected(),
		Timestamp:       protocol.Now(),
	})
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	cacheOK, dbOK := h.facade.Health(r.Context())

	status := "healthy"
	if !cacheOK || !dbOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          status,
		Cache:           okString(cacheOK),
		Database:        okString(dbOK),
		AgentsConnected: h.registry.CountConnected(),
		Timestamp:       protocol.Now(),
	})
}

func (h *Hub) handleListAgents(w http.ResponseWriter, r *http.Request) {
	var connected []map[string]any
	for _, sess := range h.registry.Snapshot() {
		if sess.Status != session.StatusConnected {
			continue
		}
		entry := map[string]any{
			"agent_id": sess.AgentID,
			"status":   sess.Status,
		}
		for k, v := range sess.Metadata {
			entry[k] = v
		}
		connected = append(connected, entry)
	}

	registered, err := h.facade.AllAgents(r.Context())
	if err != nil {
		h.logger.Error("listing registered agents failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":       connected,
		"all_registered":  registered,
		"count_connected": len(connected),
		"count_total":     len(registered),
	})
}

func (h *Hub) handleAgentsStatus(w http.ResponseWriter, _ *http.Request) {
	sessions := h.registry.Snapshot()
	agents := make([]AgentStatusResponse, 0, len(sessions))
	connected := 0

	for _, sess := range sessions {
		entry := AgentStatusResponse{
			AgentID:        sess.AgentID,
			Status:         sess.Status,
			Reconnected:    sess.Reconnected,
			ReconnectCount: sess.ReconnectCount,
		}
		if at, ok := sess.Metadata["agent_type"].(string); ok {
			entry.AgentType = at
		}
		if !sess.ConnectedAt.IsZero() {
			entry.ConnectedAt = sess.ConnectedAt.UTC().Format(timeFormat)
		}
		if !sess.DisconnectedAt.IsZero() {
			entry.DisconnectedAt = sess.DisconnectedAt.UTC().Format(timeFormat)
		}
		if sess.Status == session.StatusConnected {
			connected++
			ago := int(time.Since(sess.LastHeartbeat).Seconds())
			entry.LastHeartbeatAgo = &ago
		}
		agents = append(agents, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents":    agents,
		"total":     len(agents),
		"connected": connected,
		"timestamp": protocol.Now(),
	})
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.facade.Stats(r.Context())
	if err != nil {
		h.logger.Error("collecting stats failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": map[string]any{
			"connected":  h.registry.CountConnected(),
			"registered": stats.TotalAgents,
		},
		"contexts": map[string]any{
			"total_stored": stats.TotalContexts,
			"last_24h":     stats.Contexts24h,
		},
		"actions": map[string]any{
			"total_executed": stats.TotalActions,
			"last_hour":      stats.Actions1h,
		},
		"timestamp": protocol.Now(),
	})
}

// handleContextUpdateREST mirrors an inbound context_update message. The
// body must carry agent_id since there is no connection to infer it from.
func (h *Hub) handleContextUpdateREST(w http.ResponseWriter, r *http.Request) {
	var msg protocol.ContextUpdate
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg.AgentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	if err := h.router.ApplyContextUpdate(r.Context(), &msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": protocol.Now(),
	})
}

func (h *Hub) handleQueryREST(w http.ResponseWriter, r *http.Request) {
	var msg protocol.Query
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := h.router.ResolveQuery(r.Context(), &msg)
	status := http.StatusOK
	if resp.Error != "" && resp.QueryType == "" {
		status = http.StatusBadRequest // unknown query type
	}
	writeJSON(w, status, resp)
}

func (h *Hub) handleActionRequestREST(w http.ResponseWriter, r *http.Request) {
	var msg protocol.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	requestID, errResp := h.router.RouteAction(r.Context(), &msg)
	if errResp != nil {
		writeJSON(w, http.StatusNotFound, errResp)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "queued",
		"request_id": requestID,
		"timestamp":  protocol.Now(),
	})
}

func (h *Hub) handleBroadcastREST(w http.ResponseWriter, r *http.Request) {
	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	exclude := r.URL.Query().Get("exclude")
	h.router.Broadcast(msg, exclude)

	recipients := h.registry.CountConnected()
	if exclude != "" && h.registry.IsConnected(exclude) {
		recipients--
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "broadcasted",
		"recipients": recipients,
		"timestamp":  protocol.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
