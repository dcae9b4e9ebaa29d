// ABOUTME: Store types and the cache interface for context persistence.
// ABOUTME: Defines ContextEvent, AgentRecord, ActionRecord and the Cache contract.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// DefaultContextTTL bounds how long a cached context value is served.
const DefaultContextTTL = time.Hour

// ContextEvent is an immutable fact published by an agent. It lands in the
// TTL cache keyed by (agent_id, context_type) and in the append-only
// history log.
type ContextEvent struct {
	AgentID     string         `json:"agent_id"`
	ContextType string         `json:"context_type"`
	Data        map[string]any `json:"data"`
	Priority    int            `json:"priority"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AgentRecord is the durable registration record for an agent.
type AgentRecord struct {
	AgentID      string
	AgentType    string
	Capabilities []string
	Metadata     map[string]any
	Status       string
	LastSeen     time.Time
	CreatedAt    time.Time
}

// ActionRecord is one logged cross-agent action request.
type ActionRecord struct {
	RequestID       string
	RequestingAgent string
	TargetAgent     string
	Action          string
	Parameters      map[string]any
	Result          map[string]any
	Status          string
	CreatedAt       time.Time
}

// HistoryQuery narrows a context history search. Empty fields match all.
type HistoryQuery struct {
	Search      string
	AgentID     string
	ContextType string
	Limit       int
}

// Stats aggregates counters for /stats and /metrics.
type Stats struct {
	TotalAgents   int
	TotalContexts int
	Contexts24h   int
	TotalActions  int
	Actions1h     int
}

// Cache is a key-value store with per-key expiry. Reads after the TTL
// return ok=false; callers treat absence as unknown, never as zero.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Scan returns all live entries whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
