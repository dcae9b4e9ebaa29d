// Package store persists agent context and history.
//
// # Layout
//
// Two layers sit behind one Facade:
//
//   - Cache: latest context snapshot per (agent, context type), keyed
//     "context:{agent_id}:{context_type}" with a TTL (default 1h).
//     Backed by either the in-process MemoryCache or RedisCache,
//     selected by cache.driver in the config.
//   - SQLiteStore: durable history. Agents, append-only context
//     history, and the actions log live in SQLite via modernc.org/sqlite
//     so the binary stays pure Go.
//
// The Facade is what the rest of the server talks to. Writes go to
// both layers; reads pick the layer that fits the question (cache for
// "current", SQLite for search and history).
//
// Cache misses and expired entries are reported as (nil, false, nil),
// not as errors. ErrNotFound is reserved for database lookups of
// agents that were never registered.
package store
