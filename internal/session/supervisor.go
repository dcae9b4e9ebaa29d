// ABOUTME: Heartbeat supervisor that periodically evicts silently-dead agents.
// ABOUTME: Runs as an explicit long-lived task; eviction notifications are async.

package session

import (
	"context"
	"log/slog"
	"time"
)

// Defaults for the supervisor's timing knobs. The timeout window tolerates
// one missed 30s heartbeat.
const (
	DefaultScanInterval     = 30 * time.Second
	DefaultHeartbeatTimeout = 60 * time.Second
)

// Notifier is called for each evicted agent, after the session has been
// disconnected. Implementations typically broadcast an agent_timeout event
// and mark the agent offline in the durable store.
type Notifier func(agentID string)

// Supervisor scans the registry on a fixed period and evicts sessions whose
// heartbeat has expired. It never blocks on notification fan-out: notify
// runs on its own goroutine so a slow send cannot delay the next scan.
type Supervisor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	notify   Notifier
	logger   *slog.Logger
}

// NewSupervisor creates a supervisor over the given registry. Zero interval
// or timeout values fall back to the defaults. The loop is not started; call
// Run.
func NewSupervisor(registry *Registry, interval, timeout time.Duration, notify Notifier, logger *slog.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Supervisor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		notify:   notify,
		logger:   logger.With("component", "heartbeat"),
	}
}

// Run executes the scan loop until ctx is cancelled. Errors inside a scan
// are caught and logged so the loop itself never dies.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("heartbeat supervisor started",
		"scan_interval", s.interval,
		"timeout", s.timeout,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("heartbeat supervisor stopped")
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

// Scan runs one eviction pass immediately. Exposed for tests and for the
// hub's shutdown path.
func (s *Supervisor) Scan() {
	s.scan()
}

func (s *Supervisor) scan() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("heartbeat scan panicked", "panic", r)
		}
	}()

	now := time.Now()
	for _, sess := range s.registry.Snapshot() {
		if sess.Status != StatusConnected {
			continue
		}
		stale := now.Sub(sess.LastHeartbeat)
		if stale <= s.timeout {
			continue
		}

		s.logger.Warn("agent heartbeat timeout",
			"agent_id", sess.AgentID,
			"last_heartbeat_ago", stale.Round(time.Second),
		)

		if conn, ok := s.registry.Conn(sess.AgentID); ok {
			_ = conn.Close() // best-effort
		}
		if s.registry.Disconnect(sess.AgentID) && s.notify != nil {
			go s.notify(sess.AgentID)
		}
	}
}
