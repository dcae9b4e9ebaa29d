// ABOUTME: Tests for the REST mirror handlers and the auth middleware.
// ABOUTME: Drives the full mux router through httptest requests.

package hub

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebrain/mcp-hub/internal/auth"
	"github.com/edgebrain/mcp-hub/internal/config"
	"github.com/edgebrain/mcp-hub/internal/protocol"
)

func newTestHub(t *testing.T, jwtSecret string) *Hub {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "hub.db")
	cfg.Cache.Driver = "memory"
	cfg.Auth.JWTSecret = jwtSecret

	h, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { h.facade.Close() })
	return h
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleRoot(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RootResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "mcp-hub", resp.Service)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, 0, resp.AgentsConnected)
}

func TestHandleHealth(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Cache)
	assert.Equal(t, "ok", resp.Database)
}

func TestHandleAgentsStatus(t *testing.T) {
	h := newTestHub(t, "")
	conn := &fakeConn{}
	h.registry.Connect("jetson", conn)
	h.registry.RegisterMetadata("jetson", map[string]any{"agent_type": "vision"})

	rec := doJSON(t, h.routes(), http.MethodGet, "/agents/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Agents    []AgentStatusResponse `json:"agents"`
		Total     int                   `json:"total"`
		Connected int                   `json:"connected"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "jetson", resp.Agents[0].AgentID)
	assert.Equal(t, "vision", resp.Agents[0].AgentType)
	assert.Equal(t, 1, resp.Connected)
	require.NotNil(t, resp.Agents[0].LastHeartbeatAgo)
}

func TestHandleStats(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp, "agents")
	assert.Contains(t, resp, "contexts")
	assert.Contains(t, resp, "actions")
}

func TestHandleMetricsExposition(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcp_agents_connected")
}

func TestContextUpdateREST(t *testing.T) {
	h := newTestHub(t, "")
	listener := &fakeConn{}
	h.registry.Connect("listener", listener)

	rec := doJSON(t, h.routes(), http.MethodPost, "/context/update", protocol.ContextUpdate{
		AgentID:     "rest-caller",
		ContextType: "alert",
		Data:        map[string]any{"level": "high"},
		Priority:    5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// REST updates behave exactly like WS ones, including the push.
	require.Len(t, messagesOf[protocol.ContextNotification](listener), 1)
}

func TestContextUpdateREST_RequiresAgentID(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodPost, "/context/update", protocol.ContextUpdate{
		ContextType: "alert",
		Data:        map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryREST(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodPost, "/query", protocol.Query{
		QueryType: protocol.QueryCurrentContext,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp protocol.QueryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, protocol.QueryCurrentContext, resp.QueryType)

	rec = doJSON(t, h.routes(), http.MethodPost, "/query", protocol.Query{
		QueryType: "nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionRequestREST(t *testing.T) {
	h := newTestHub(t, "")
	target := &fakeConn{}
	h.registry.Connect("speaker", target)

	rec := doJSON(t, h.routes(), http.MethodPost, "/action/request", protocol.ActionRequest{
		RequestingAgent: "automation",
		TargetAgent:     "speaker",
		Action:          "say",
		Parameters:      map[string]any{"text": "hi"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "queued", resp["status"])
	assert.NotEmpty(t, resp["request_id"])

	require.Len(t, messagesOf[protocol.ActionForward](target), 1)
}

func TestActionRequestREST_TargetMissing(t *testing.T) {
	h := newTestHub(t, "")

	rec := doJSON(t, h.routes(), http.MethodPost, "/action/request", protocol.ActionRequest{
		TargetAgent: "ghost",
		Action:      "say",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp protocol.ActionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "error", resp.Status)
}

func TestBroadcastREST(t *testing.T) {
	h := newTestHub(t, "")
	a := &fakeConn{}
	b := &fakeConn{}
	h.registry.Connect("a", a)
	h.registry.Connect("b", b)

	rec := doJSON(t, h.routes(), http.MethodPost, "/broadcast?exclude=a", map[string]any{
		"type": "announcement",
		"text": "maintenance at noon",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["recipients"])

	assert.Empty(t, a.messages(), "excluded agent must not receive the broadcast")
	assert.Len(t, b.messages(), 1)
}

func TestRequireAuth(t *testing.T) {
	const secret = "test-secret"
	h := newTestHub(t, secret)

	body := protocol.Query{QueryType: protocol.QueryCurrentContext}

	// No token.
	rec := doJSON(t, h.routes(), http.MethodPost, "/query", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	token, err := auth.NewVerifier([]byte(secret)).Generate("tester", time.Minute)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/query", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Reads stay open even with auth enabled.
	rec = doJSON(t, h.routes(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
