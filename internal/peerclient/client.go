// ABOUTME: Reconnecting WebSocket client agents embed to talk to the hub.
// ABOUTME: Handles registration, heartbeats, backoff and inbound dispatch.

package peerclient

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/edgebrain/mcp-hub/internal/protocol"
)

func newRequestID() string { return uuid.New().String() }

const (
	// DefaultHeartbeatInterval matches the hub supervisor's expectations:
	// one beat every 30s against a 60s timeout leaves a missed-beat margin.
	DefaultHeartbeatInterval = 30 * time.Second

	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 60 * time.Second

	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Version reported in registration metadata.
var Version = "dev"

// Handler receives the raw JSON of one inbound message.
type Handler func(raw []byte)

// Options configures a Client. URL and AgentID are required.
type Options struct {
	// URL is the hub's WebSocket base, e.g. "ws://localhost:8765".
	// The agent path segment is appended automatically.
	URL string

	AgentID      string
	AgentType    string
	Capabilities []string
	Metadata     map[string]any

	// Token is sent as a bearer credential when the hub requires auth.
	Token string

	HeartbeatInterval time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration

	Logger *slog.Logger
}

// Client maintains one logical connection to the hub, transparently
// re-establishing it when the transport drops. Register handlers with
// On before calling Run.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers map[protocol.Kind]Handler

	writeMu sync.Mutex

	attempts int

	closeOnce sync.Once
	done      chan struct{}
}

func New(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:     opts,
		logger:   logger.With("agent_id", opts.AgentID),
		handlers: make(map[protocol.Kind]Handler),
		done:     make(chan struct{}),
	}
}

// On registers fn for messages of the given kind. Last writer wins.
// Must be called before Run.
func (c *Client) On(kind protocol.Kind, fn Handler) {
	c.mu.Lock()
	c.handlers[kind] = fn
	c.mu.Unlock()
}

// Run connects and serves the session until ctx is cancelled or
// Shutdown is called, reconnecting with exponential backoff on any
// transport failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.attempts++
			delay := c.backoff()
			c.logger.Warn("connection failed, retrying",
				"error", err, "attempt", c.attempts, "delay", delay)
			if !sleepCtx(ctx, c.done, delay) {
				return ctx.Err()
			}
			continue
		}

		c.logger.Info("connected to hub", "url", c.opts.URL)
		c.setConn(conn)

		// A failed registration falls through to the same backoff as a
		// dropped session; a tight redial loop would hammer the hub.
		if err = c.register(); err != nil {
			c.logger.Warn("registration failed", "error", err)
		} else {
			c.attempts = 0
			err = c.serve(ctx, conn)
		}
		c.teardown()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.attempts++
		delay := c.backoff()
		c.logger.Warn("disconnected from hub, reconnecting",
			"error", err, "attempt", c.attempts, "delay", delay)
		if !sleepCtx(ctx, c.done, delay) {
			return ctx.Err()
		}
	}
}

// Shutdown permanently stops the client. Safe to call more than once.
func (c *Client) Shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.teardown()
	})
}

// Connected reports whether a live connection is currently held.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Send writes v as JSON on the current connection. When disconnected
// the message is logged and dropped; the reconnect loop will
// re-register, and callers are expected to re-publish state after
// reconnect rather than rely on queueing.
func (c *Client) Send(v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		c.logger.Debug("dropping message, not connected")
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// PublishContext sends a context update for this agent.
func (c *Client) PublishContext(contextType string, data map[string]any, priority int) error {
	return c.Send(&protocol.ContextUpdate{
		Type:        protocol.KindContextUpdate,
		AgentID:     c.opts.AgentID,
		ContextType: contextType,
		Data:        data,
		Priority:    priority,
		Timestamp:   protocol.Now(),
	})
}

// Query sends a query; the answer arrives through the handler
// registered for protocol.KindQueryResponse.
func (c *Client) Query(queryType string, params map[string]any) error {
	return c.Send(&protocol.Query{
		Type:            protocol.KindQuery,
		RequestingAgent: c.opts.AgentID,
		QueryType:       queryType,
		Parameters:      params,
	})
}

// RequestAction asks the hub to route an action to target. The
// returned request ID correlates the eventual action_response.
func (c *Client) RequestAction(target, action string, params map[string]any) (string, error) {
	requestID := newRequestID()
	err := c.Send(&protocol.ActionRequest{
		Type:            protocol.KindActionRequest,
		RequestingAgent: c.opts.AgentID,
		TargetAgent:     target,
		Action:          action,
		Parameters:      params,
		RequestID:       requestID,
	})
	return requestID, err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.JoinPath(c.opts.URL, "ws", "agent", c.opts.AgentID)
	if err != nil {
		return nil, err
	}

	var header http.Header
	if c.opts.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.opts.Token}}
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, u, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Client) register() error {
	meta := map[string]any{
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"version":  Version,
	}
	if c.attempts > 0 {
		meta["reconnect_attempts"] = c.attempts
	}
	for k, v := range c.opts.Metadata {
		meta[k] = v
	}

	return c.Send(&protocol.Register{
		Type:         protocol.KindRegister,
		AgentType:    c.opts.AgentType,
		Capabilities: c.opts.Capabilities,
		Metadata:     meta,
	})
}

// serve pumps the connection: a heartbeat ticker on one goroutine, the
// read loop on the caller's. Returns when either side fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeatLoop(hbCtx)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(&protocol.Heartbeat{Type: protocol.KindHeartbeat}); err != nil {
				c.logger.Debug("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	kind, err := protocol.PeekKind(raw)
	if err != nil {
		c.logger.Debug("unparseable message from hub", "error", err)
		return
	}

	// The hub pings idle connections; answer without involving the app.
	if kind == protocol.KindPing {
		_ = c.Send(&protocol.Pong{Type: protocol.KindPong, ServerTime: protocol.Now()})
		return
	}

	c.mu.RLock()
	fn := c.handlers[kind]
	c.mu.RUnlock()

	if fn == nil {
		c.logger.Debug("no handler for message", "kind", kind)
		return
	}
	fn(raw)
}

// backoff returns min(base * 2^min(attempts-1, 5) + jitter, max) where
// jitter is uniform in [0, 1s). Caps the exponent so the doubling
// stops at 32x base before the hard ceiling.
func (c *Client) backoff() time.Duration {
	exp := c.attempts - 1
	if exp > 5 {
		exp = 5
	}
	if exp < 0 {
		exp = 0
	}
	d := time.Duration(float64(c.opts.BaseBackoff) * math.Pow(2, float64(exp)))
	d += time.Duration(rand.Int63n(int64(time.Second)))
	if d > c.opts.MaxBackoff {
		d = c.opts.MaxBackoff
	}
	return d
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
