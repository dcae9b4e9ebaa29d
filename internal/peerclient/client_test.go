// ABOUTME: Tests for the reconnecting client: backoff schedule, dispatch,
// ABOUTME: and a live round trip against an httptest WebSocket server.

package peerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgebrain/mcp-hub/internal/protocol"
)

func TestBackoffSchedule(t *testing.T) {
	c := New(Options{URL: "ws://x", AgentID: "a"})

	// Doubling stops once the exponent caps: 1,2,4,8,16,32,32,32.
	expected := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 32 * time.Second, 32 * time.Second,
	}

	for i, want := range expected {
		c.attempts = i + 1
		got := c.backoff()

		// Jitter adds up to 1s before the cap is applied.
		if got < want {
			t.Errorf("attempt %d: backoff %v below base %v", i+1, got, want)
		}
		if got > want+time.Second {
			t.Errorf("attempt %d: backoff %v exceeds base+jitter %v", i+1, got, want+time.Second)
		}
		if got > c.opts.MaxBackoff {
			t.Errorf("attempt %d: backoff %v exceeds cap %v", i+1, got, c.opts.MaxBackoff)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	c := New(Options{URL: "ws://x", AgentID: "a"})

	if c.opts.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("heartbeat interval = %v", c.opts.HeartbeatInterval)
	}
	if c.opts.BaseBackoff != DefaultBaseBackoff {
		t.Errorf("base backoff = %v", c.opts.BaseBackoff)
	}
	if c.opts.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("max backoff = %v", c.opts.MaxBackoff)
	}
}

func TestDispatch(t *testing.T) {
	c := New(Options{URL: "ws://x", AgentID: "a"})

	var mu sync.Mutex
	var got []string
	c.On(protocol.KindContextNotification, func(raw []byte) {
		mu.Lock()
		got = append(got, string(raw))
		mu.Unlock()
	})

	c.dispatch([]byte(`{"type":"context_notification","from_agent":"b"}`))
	c.dispatch([]byte(`{"type":"agent_joined"}`)) // no handler, dropped
	c.dispatch([]byte(`garbage`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(got))
	}
	if !strings.Contains(got[0], "from_agent") {
		t.Errorf("handler received wrong payload: %s", got[0])
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://x", AgentID: "a"})

	// Dropped silently; the reconnect loop owns recovery.
	if err := c.Send(map[string]any{"type": "heartbeat"}); err != nil {
		t.Errorf("disconnected send should not error, got %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := New(Options{URL: "ws://x", AgentID: "a"})
	c.Shutdown()
	c.Shutdown()
	select {
	case <-c.done:
	default:
		t.Error("done channel should be closed after Shutdown")
	}
}

// echoServer upgrades one connection and records the first frame it reads.
func echoServer(t *testing.T, firstFrame chan<- []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/agent/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case firstFrame <- raw:
			default:
			}
		}
	}))
}

// Covers the failure path where the hub accepts the upgrade but the session
// dies before or during registration: every retry must go through the
// backoff sleep, never a tight redial loop.
func TestRunPacesRetriesWhenServerDropsImmediately(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	c := New(Options{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentID:     "tester",
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	})
	defer c.Shutdown()

	go c.Run(context.Background())
	time.Sleep(400 * time.Millisecond)
	c.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Fatalf("expected at least one retry, got %d attempts", attempts)
	}
	if attempts > 12 {
		t.Errorf("retries not paced by backoff: %d attempts in 400ms", attempts)
	}
}

func TestRunRegistersOnConnect(t *testing.T) {
	firstFrame := make(chan []byte, 1)
	srv := echoServer(t, firstFrame)
	defer srv.Close()

	c := New(Options{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentID:      "tester",
		AgentType:    "unit",
		Capabilities: []string{"x"},
	})
	defer c.Shutdown()

	go c.Run(context.Background())

	select {
	case raw := <-firstFrame:
		kind, err := protocol.PeekKind(raw)
		if err != nil {
			t.Fatalf("first frame unparseable: %v", err)
		}
		if kind != protocol.KindRegister {
			t.Errorf("first frame should be register, got %s", kind)
		}
		if !strings.Contains(string(raw), `"agent_type":"unit"`) {
			t.Errorf("register missing agent_type: %s", raw)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client never registered")
	}
}
