// ABOUTME: End-to-end WebSocket tests: real dial against the routed handler.
// ABOUTME: Also covers timestamp parsing fallbacks.

package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebrain/mcp-hub/internal/protocol"
)

func TestParseTimestamp(t *testing.T) {
	got := parseTimestamp("2025-06-01T12:00:00Z")
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)

	// Zone-less ISO form is read as UTC.
	got = parseTimestamp("2025-06-01T12:00:00.500000")
	assert.Equal(t, want.Add(500*time.Millisecond), got)

	// Garbage and empty fall back to roughly now.
	for _, s := range []string{"", "yesterday"} {
		got = parseTimestamp(s)
		assert.WithinDuration(t, time.Now().UTC(), got, time.Minute, "input %q", s)
	}
}

func dialAgent(t *testing.T, srv *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agent/" + agentID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readKind(t *testing.T, conn *websocket.Conn, want protocol.Kind) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		kind, err := protocol.PeekKind(raw)
		require.NoError(t, err)
		if kind == want {
			return raw
		}
	}
}

func TestAgentWS_ConnectAndGreet(t *testing.T) {
	h := newTestHub(t, "")
	srv := httptest.NewServer(h.routes())
	defer srv.Close()

	conn := dialAgent(t, srv, "jetson")

	raw := readKind(t, conn, protocol.KindConnectionEstablished)
	var greet protocol.ConnectionEstablished
	require.NoError(t, json.Unmarshal(raw, &greet))
	assert.Equal(t, "jetson", greet.AgentID)
	assert.NotEmpty(t, greet.ServerTime)
}

func TestAgentWS_RegisterAndHeartbeatOverWire(t *testing.T) {
	h := newTestHub(t, "")
	srv := httptest.NewServer(h.routes())
	defer srv.Close()

	conn := dialAgent(t, srv, "jetson")
	readKind(t, conn, protocol.KindConnectionEstablished)

	require.NoError(t, conn.WriteJSON(protocol.Register{
		Type:         protocol.KindRegister,
		AgentType:    "vision",
		Capabilities: []string{"detect"},
	}))
	require.NoError(t, conn.WriteJSON(protocol.Heartbeat{Type: protocol.KindHeartbeat}))

	raw := readKind(t, conn, protocol.KindPong)
	var pong protocol.Pong
	require.NoError(t, json.Unmarshal(raw, &pong))
	assert.NotEmpty(t, pong.ServerTime)
}

func TestAgentWS_PeerSeesJoinAndLeave(t *testing.T) {
	h := newTestHub(t, "")
	srv := httptest.NewServer(h.routes())
	defer srv.Close()

	watcher := dialAgent(t, srv, "watcher")
	readKind(t, watcher, protocol.KindConnectionEstablished)

	peer := dialAgent(t, srv, "peer")
	readKind(t, peer, protocol.KindConnectionEstablished)
	require.NoError(t, peer.WriteJSON(protocol.Register{
		Type:      protocol.KindRegister,
		AgentType: "audio",
	}))

	raw := readKind(t, watcher, protocol.KindAgentJoined)
	var joined protocol.AgentJoined
	require.NoError(t, json.Unmarshal(raw, &joined))
	assert.Equal(t, "peer", joined.AgentID)

	peer.Close()

	raw = readKind(t, watcher, protocol.KindAgentLeft)
	var left protocol.AgentLeft
	require.NoError(t, json.Unmarshal(raw, &left))
	assert.Equal(t, "peer", left.AgentID)
}

func TestAgentWS_ReconnectSupersedesOldConnection(t *testing.T) {
	h := newTestHub(t, "")
	srv := httptest.NewServer(h.routes())
	defer srv.Close()

	first := dialAgent(t, srv, "jetson")
	readKind(t, first, protocol.KindConnectionEstablished)

	// Second dial for the same agent id closes the first connection.
	second := dialAgent(t, srv, "jetson")
	readKind(t, second, protocol.KindConnectionEstablished)

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err, "stale connection should be closed by the hub")

	// Let the stale connection's receive loop finish tearing down; it must
	// not evict the session the second connection now owns.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, h.registry.IsConnected("jetson"))
	assert.Equal(t, 1, h.registry.CountConnected())

	require.NoError(t, second.WriteJSON(protocol.Heartbeat{Type: protocol.KindHeartbeat}))
	raw := readKind(t, second, protocol.KindPong)
	var pong protocol.Pong
	require.NoError(t, json.Unmarshal(raw, &pong))
	assert.NotEmpty(t, pong.ServerTime)
}

func TestAgentWS_AuthRequired(t *testing.T) {
	h := newTestHub(t, "ws-secret")
	srv := httptest.NewServer(h.routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agent/jetson"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)
}
