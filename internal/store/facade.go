// ABOUTME: Facade combining the TTL cache and the SQLite durable store.
// ABOUTME: The router reads and writes context state only through this type.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const contextKeyPrefix = "context:"

// Facade is the single read/write surface the router uses for context
// state. Each call is independently failable; no lock is held across a
// store call.
type Facade struct {
	cache  Cache
	db     *SQLiteStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewFacade wires a cache driver and the SQLite store together. A zero ttl
// falls back to DefaultContextTTL.
func NewFacade(cache Cache, db *SQLiteStore, ttl time.Duration, logger *slog.Logger) *Facade {
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &Facade{
		cache:  cache,
		db:     db,
		ttl:    ttl,
		logger: logger.With("component", "facade"),
	}
}

// ContextKey builds the cache key for one (agent, context_type) pair.
func ContextKey(agentID, contextType string) string {
	return contextKeyPrefix + agentID + ":" + contextType
}

// CacheUpsert stores the latest event for its (agent, context_type) key.
// A later write always wins; the entry expires after the configured TTL.
func (f *Facade) CacheUpsert(ctx context.Context, ev *ContextEvent) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling context event: %w", err)
	}
	return f.cache.Set(ctx, ContextKey(ev.AgentID, ev.ContextType), val, f.ttl)
}

// AppendHistory appends the event to the immutable history log.
func (f *Facade) AppendHistory(ctx context.Context, ev *ContextEvent) error {
	return f.db.AppendContext(ctx, ev)
}

// CurrentContexts snapshots all non-expired cache entries, keyed by cache key.
func (f *Facade) CurrentContexts(ctx context.Context) (map[string]*ContextEvent, error) {
	raw, err := f.cache.Scan(ctx, contextKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scanning context cache: %w", err)
	}

	out := make(map[string]*ContextEvent, len(raw))
	for key, val := range raw {
		var ev ContextEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			f.logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
			continue
		}
		out[key] = &ev
	}
	return out, nil
}

// SearchHistory searches the history log, newest first.
func (f *Facade) SearchHistory(ctx context.Context, q HistoryQuery) ([]*ContextEvent, error) {
	return f.db.SearchContexts(ctx, q)
}

// ConversationHistory returns user_speech/agent_response events, newest
// first, optionally filtered by the embedded user field.
func (f *Facade) ConversationHistory(ctx context.Context, userID string, limit int) ([]*ContextEvent, error) {
	return f.db.ConversationContexts(ctx, userID, limit)
}

// LogAction durably appends an action record. Status derives from whether a
// result was supplied: pending without one, success with one. Failed writes
// surface to the caller; the facade never retries.
func (f *Facade) LogAction(ctx context.Context, rec *ActionRecord) error {
	if rec.Status == "" {
		if rec.Result != nil {
			rec.Status = "success"
		} else {
			rec.Status = "pending"
		}
	}
	return f.db.InsertAction(ctx, rec)
}

// RegisterAgent persists an agent's registration record.
func (f *Facade) RegisterAgent(ctx context.Context, rec *AgentRecord) error {
	return f.db.UpsertAgent(ctx, rec)
}

// SetAgentStatus updates an agent's durable status.
func (f *Facade) SetAgentStatus(ctx context.Context, agentID, status string) error {
	return f.db.UpdateAgentStatus(ctx, agentID, status)
}

// TouchAgent stamps an agent's last_seen on heartbeat.
func (f *Facade) TouchAgent(ctx context.Context, agentID string) error {
	return f.db.UpdateAgentLastSeen(ctx, agentID)
}

// AgentInfo returns an agent's durable record, or ErrNotFound.
func (f *Facade) AgentInfo(ctx context.Context, agentID string) (*AgentRecord, error) {
	return f.db.GetAgent(ctx, agentID)
}

// AllAgents lists every registered agent.
func (f *Facade) AllAgents(ctx context.Context) ([]*AgentRecord, error) {
	return f.db.ListAgents(ctx)
}

// Stats returns aggregate counters.
func (f *Facade) Stats(ctx context.Context) (*Stats, error) {
	return f.db.GetStats(ctx)
}

// Health reports reachability of the cache and the durable store.
func (f *Facade) Health(ctx context.Context) (cacheOK, dbOK bool) {
	return f.cache.Ping(ctx) == nil, f.db.Ping(ctx) == nil
}

// Close releases both backends.
func (f *Facade) Close() error {
	cerr := f.cache.Close()
	derr := f.db.Close()
	if derr != nil {
		return derr
	}
	return cerr
}
