// ABOUTME: Session registry mapping agent IDs to live connections and metadata.
// ABOUTME: Owns connect/disconnect/heartbeat bookkeeping for all agents.

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Status values for a session.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Conn is the write side of one agent's duplex connection. The registry
// owns the handle while the session is connected; it never writes to it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is the hub's live-state record for one agent. The registry hands
// out copies; the connection handle is only reachable through Conn lookups.
type Session struct {
	AgentID        string
	Metadata       map[string]any
	Status         string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	LastHeartbeat  time.Time
	ReconnectCount int
	Reconnected    bool

	conn       Conn
	registered bool
}

// Registry tracks every agent session. All methods are safe for concurrent
// use from per-connection goroutines and the heartbeat supervisor. Sessions
// are soft-deleted on disconnect so a reconnect can detect the prior record.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "registry"),
	}
}

// Connect records a live connection for an agent, creating the session if
// this is the agent's first appearance. Last writer wins: the previous
// handle, if any, is returned so the caller can close it.
func (r *Registry) Connect(agentID string, conn Conn) (stale Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	s, ok := r.sessions[agentID]
	if !ok {
		s = &Session{AgentID: agentID, Metadata: make(map[string]any)}
		r.sessions[agentID] = s
	}
	stale = s.conn
	s.conn = conn
	s.Status = StatusConnected
	s.ConnectedAt = now
	s.LastHeartbeat = now

	r.logger.Info("agent connected", "agent_id", agentID, "total_connected", r.connectedLocked())
	return stale
}

// Disconnect removes the live handle and flips the session to disconnected.
// Safe to call from multiple failure paths; only the first call for a live
// session reports true, so callers can avoid double-broadcasting.
func (r *Registry) Disconnect(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[agentID]
	if !ok || s.Status != StatusConnected {
		return false
	}
	r.disconnectLocked(agentID, s)
	return true
}

// DisconnectConn flips the session to disconnected only if conn is still
// the session's current handle. A handle that was superseded by a reconnect
// reports false and leaves the new connection's session untouched, so a
// stale receive loop winding down cannot evict the live session.
func (r *Registry) DisconnectConn(agentID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[agentID]
	if !ok || s.Status != StatusConnected {
		return false
	}
	if s.conn != conn {
		r.logger.Debug("stale connection teardown ignored", "agent_id", agentID)
		return false
	}
	r.disconnectLocked(agentID, s)
	return true
}

func (r *Registry) disconnectLocked(agentID string, s *Session) {
	s.conn = nil
	s.Status = StatusDisconnected
	s.DisconnectedAt = time.Now()

	r.logger.Info("agent disconnected", "agent_id", agentID, "total_connected", r.connectedLocked())
}

// RegisterMetadata overwrites the session's metadata from a register
// message. A second registration for the same id marks the session as
// reconnected and increments its reconnect counter.
func (r *Registry) RegisterMetadata(agentID string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[agentID]
	if !ok {
		s = &Session{AgentID: agentID, Status: StatusDisconnected}
		r.sessions[agentID] = s
	}
	prior := s.registered
	s.registered = true
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	s.Metadata = md
	if prior {
		s.ReconnectCount++
		s.Reconnected = true
		r.logger.Info("agent re-registered", "agent_id", agentID, "reconnect_count", s.ReconnectCount)
	}
}

// UpdateHeartbeat stamps the session's last heartbeat. Unknown agents are
// logged and ignored.
func (r *Registry) UpdateHeartbeat(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[agentID]
	if !ok {
		r.logger.Warn("heartbeat from unknown agent", "agent_id", agentID)
		return
	}
	s.LastHeartbeat = time.Now()
}

// IsConnected reports whether the agent currently has a live connection.
func (r *Registry) IsConnected(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[agentID]
	return ok && s.Status == StatusConnected
}

// Lookup returns a copy of the session, or ok=false if the agent has never
// registered or connected.
func (r *Registry) Lookup(agentID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[agentID]
	if !ok {
		return Session{}, false
	}
	return copySession(s), true
}

// Conn returns the live connection handle for a connected agent.
func (r *Registry) Conn(agentID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[agentID]
	if !ok || s.Status != StatusConnected || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

// ListConnected returns the ids of all currently connected agents.
func (r *Registry) ListConnected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.Status == StatusConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Connections returns the connection handle for every connected agent
// except exclude. Used by broadcast fan-out.
func (r *Registry) Connections(exclude string) map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make(map[string]Conn)
	for id, s := range r.sessions {
		if id == exclude || s.Status != StatusConnected || s.conn == nil {
			continue
		}
		conns[id] = s.conn
	}
	return conns
}

// Snapshot returns copies of every session the registry has ever seen,
// connected or not.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, copySession(s))
	}
	return out
}

// CountConnected returns the number of live sessions.
func (r *Registry) CountConnected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectedLocked()
}

func (r *Registry) connectedLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.Status == StatusConnected {
			n++
		}
	}
	return n
}

func copySession(s *Session) Session {
	c := *s
	c.conn = nil
	c.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return c
}
