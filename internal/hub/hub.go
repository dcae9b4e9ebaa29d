// ABOUTME: Hub orchestrator that wires registry, router, store, and HTTP server.
// ABOUTME: Owns component lifecycle: explicit Run with cancellation-driven shutdown.

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/edgebrain/mcp-hub/internal/auth"
	"github.com/edgebrain/mcp-hub/internal/config"
	"github.com/edgebrain/mcp-hub/internal/metrics"
	"github.com/edgebrain/mcp-hub/internal/protocol"
	"github.com/edgebrain/mcp-hub/internal/session"
	"github.com/edgebrain/mcp-hub/internal/store"
)

// Hub coordinates all server components: the session registry, heartbeat
// supervisor, message router, context store facade, and the HTTP server
// that carries both the WebSocket endpoint and the REST mirror.
type Hub struct {
	config     *config.Config
	registry   *session.Registry
	supervisor *session.Supervisor
	router     *Router
	facade     *store.Facade
	metrics    *metrics.Metrics
	verifier   *auth.Verifier
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this hub instance
	serverID string
}

// New creates a Hub from configuration. The durable store must be
// reachable or startup aborts; so must Redis when it is the selected
// cache driver.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	var cache store.Cache
	switch cfg.Cache.Driver {
	case "redis":
		cache, err = store.NewRedisCache(context.Background(), cfg.Cache.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing redis cache: %w", err)
		}
	default:
		cache = store.NewMemoryCache()
	}

	facade := store.NewFacade(cache, db, cfg.Cache.ContextTTL, logger)
	m := metrics.New()
	registry := session.NewRegistry(logger)
	router := NewRouter(registry, facade, m, logger)

	h := &Hub{
		config:   cfg,
		registry: registry,
		router:   router,
		facade:   facade,
		metrics:  m,
		verifier: auth.NewVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:   logger.With("component", "hub"),
		serverID: uuid.New().String(),
	}

	h.supervisor = session.NewSupervisor(
		registry,
		cfg.Agents.ScanInterval,
		cfg.Agents.HeartbeatTimeout,
		h.handleTimeout,
		logger,
	)

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h, nil
}

// routes builds the full HTTP surface: the agent WebSocket endpoint plus
// the REST mirror for non-connection-capable callers.
func (h *Hub) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws/agent/{agent_id}", h.handleAgentWS)

	r.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/agents", h.handleListAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/status", h.handleAgentsStatus).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	r.Handle("/context/update", h.requireAuth(http.HandlerFunc(h.handleContextUpdateREST))).Methods(http.MethodPost)
	r.Handle("/query", h.requireAuth(http.HandlerFunc(h.handleQueryREST))).Methods(http.MethodPost)
	r.Handle("/action/request", h.requireAuth(http.HandlerFunc(h.handleActionRequestREST))).Methods(http.MethodPost)
	r.Handle("/broadcast", h.requireAuth(http.HandlerFunc(h.handleBroadcastREST))).Methods(http.MethodPost)

	return r
}

// Run starts the heartbeat supervisor and the HTTP server and blocks until
// ctx is cancelled or the server fails.
func (h *Hub) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go h.supervisor.Run(ctx)

	go func() {
		h.logger.Info("HTTP server listening", "addr", h.config.Server.HTTPAddr, "server_id", h.serverID)
		if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	h.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.httpServer.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("http shutdown error", "error", err)
	}

	if err := h.facade.Close(); err != nil {
		h.logger.Warn("store close error", "error", err)
	}

	h.logger.Info("shutdown complete")
	return nil
}

// handleTimeout is the supervisor's eviction notifier. The session is
// already disconnected when this runs; timeouts are announced to everyone.
func (h *Hub) handleTimeout(agentID string) {
	h.metrics.AgentsConnected.Set(float64(h.registry.CountConnected()))

	h.router.Broadcast(protocol.AgentTimeout{
		Type:      protocol.KindAgentTimeout,
		AgentID:   agentID,
		Timestamp: protocol.Now(),
	}, "")

	if err := h.facade.SetAgentStatus(context.Background(), agentID, "offline"); err != nil {
		h.logger.Warn("marking timed-out agent offline failed", "agent_id", agentID, "error", err)
	}
}

// requireAuth gates mutating REST endpoints behind bearer-token auth when a
// verifier is configured. With auth disabled it is a no-op.
func (h *Hub) requireAuth(next http.Handler) http.Handler {
	if h.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.verifier.Verify(auth.FromRequest(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
