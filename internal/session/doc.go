// Package session tracks agent connections and their liveness.
//
// # Registry
//
// The Registry is the single source of truth for who is connected. It
// maps agent IDs to Session records under one RWMutex; all transitions
// (connect, register, disconnect, heartbeat) are linearized through it.
// Connecting with an ID that is already live follows last-writer-wins:
// the newest connection replaces the previous one, and the stale
// connection is handed back to the caller to close outside the lock.
//
// The registry never writes to connections itself. Callers fetch a
// Conn and send on it so a slow peer cannot stall registry operations.
//
// # Supervisor
//
// The Supervisor periodically scans the registry and disconnects
// sessions whose last heartbeat is older than the configured timeout
// (default: 30s scan, 60s timeout). Timeout notifications run on their
// own goroutine so fan-out never delays the next scan.
package session
