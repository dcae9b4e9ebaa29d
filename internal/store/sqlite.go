// ABOUTME: SQLite durable store using modernc.org/sqlite.
// ABOUTME: Holds agent records, the append-only context history, and action logs.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable half of the context store.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed; the schema is applied on first open.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps per-connection readers from blocking the writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			agent_type TEXT NOT NULL,
			capabilities TEXT NOT NULL,
			metadata TEXT NOT NULL,
			status TEXT NOT NULL,
			last_seen DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS context_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			context_type TEXT NOT NULL,
			data TEXT NOT NULL,
			priority INTEGER NOT NULL,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_context_history_agent
			ON context_history(agent_id);

		CREATE INDEX IF NOT EXISTS idx_context_history_type_ts
			ON context_history(context_type, timestamp);

		CREATE TABLE IF NOT EXISTS actions_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			requesting_agent TEXT NOT NULL,
			target_agent TEXT NOT NULL,
			action TEXT NOT NULL,
			parameters TEXT NOT NULL,
			result TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_actions_log_created
			ON actions_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertAgent inserts or refreshes an agent's registration record and marks
// it active.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, rec *AgentRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, agent_type, capabilities, metadata, status, last_seen, created_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			capabilities = excluded.capabilities,
			metadata = excluded.metadata,
			status = 'active',
			last_seen = excluded.last_seen`,
		rec.AgentID, rec.AgentType, string(caps), string(meta), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// UpdateAgentStatus flips an agent's durable status (active/offline) and
// stamps last_seen.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, agentID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, last_seen = ? WHERE agent_id = ?",
		status, time.Now().UTC(), agentID,
	)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	return nil
}

// UpdateAgentLastSeen stamps last_seen, used on every heartbeat.
func (s *SQLiteStore) UpdateAgentLastSeen(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET last_seen = ? WHERE agent_id = ?",
		time.Now().UTC(), agentID,
	)
	if err != nil {
		return fmt.Errorf("updating agent last_seen: %w", err)
	}
	return nil
}

// GetAgent returns an agent's durable record, or ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, agent_type, capabilities, metadata, status, last_seen, created_at
		FROM agents WHERE agent_id = ?`, agentID)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return rec, nil
}

// ListAgents returns every registered agent, newest first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, agent_type, capabilities, metadata, status, last_seen, created_at
		FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, rec)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var rec AgentRecord
	var caps, meta string
	if err := row.Scan(&rec.AgentID, &rec.AgentType, &caps, &meta, &rec.Status, &rec.LastSeen, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshaling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return &rec, nil
}

// AppendContext appends one event to the history log. The log is never
// mutated or pruned; duplicate content is not an error.
func (s *SQLiteStore) AppendContext(ctx context.Context, ev *ContextEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshaling context data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_history (agent_id, context_type, data, priority, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		ev.AgentID, ev.ContextType, string(data), ev.Priority, ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending context: %w", err)
	}
	return nil
}

// SearchContexts searches the history log. Substring match is against the
// serialized payload; all filters are ANDed; results are newest first.
func (s *SQLiteStore) SearchContexts(ctx context.Context, q HistoryQuery) ([]*ContextEvent, error) {
	query := `SELECT agent_id, context_type, data, priority, timestamp FROM context_history WHERE 1=1`
	var args []any

	if q.Search != "" {
		query += " AND data LIKE ?"
		args = append(args, "%"+q.Search+"%")
	}
	if q.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	if q.ContextType != "" {
		query += " AND context_type = ?"
		args = append(args, q.ContextType)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return s.queryContexts(ctx, query, args...)
}

// ConversationContexts returns user_speech and agent_response events,
// newest first, optionally filtered by the embedded user field.
func (s *SQLiteStore) ConversationContexts(ctx context.Context, userID string, limit int) ([]*ContextEvent, error) {
	query := `
		SELECT agent_id, context_type, data, priority, timestamp
		FROM context_history
		WHERE context_type IN ('user_speech', 'agent_response')`
	var args []any

	if userID != "" {
		query += " AND json_extract(data, '$.user') = ?"
		args = append(args, userID)
	}

	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return s.queryContexts(ctx, query, args...)
}

func (s *SQLiteStore) queryContexts(ctx context.Context, query string, args ...any) ([]*ContextEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	var events []*ContextEvent
	for rows.Next() {
		var ev ContextEvent
		var data string
		if err := rows.Scan(&ev.AgentID, &ev.ContextType, &data, &ev.Priority, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning context: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("unmarshaling context data: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// InsertAction logs one routed action request.
func (s *SQLiteStore) InsertAction(ctx context.Context, rec *ActionRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling parameters: %w", err)
	}
	var result sql.NullString
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions_log (request_id, requesting_agent, target_agent, action, parameters, result, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.RequestingAgent, rec.TargetAgent, rec.Action,
		string(params), result, rec.Status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// GetStats returns aggregate counters across all tables.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats

	counts := []struct {
		dest  *int
		query string
	}{
		{&st.TotalAgents, "SELECT COUNT(*) FROM agents"},
		{&st.TotalContexts, "SELECT COUNT(*) FROM context_history"},
		{&st.Contexts24h, "SELECT COUNT(*) FROM context_history WHERE timestamp > datetime('now', '-24 hours')"},
		{&st.TotalActions, "SELECT COUNT(*) FROM actions_log"},
		{&st.Actions1h, "SELECT COUNT(*) FROM actions_log WHERE created_at > datetime('now', '-1 hour')"},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}
	return &st, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
