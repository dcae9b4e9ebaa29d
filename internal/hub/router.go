// ABOUTME: Message router: decodes inbound frames, dispatches by kind, delivers outbound.
// ABOUTME: Owns SendTo/Broadcast primitives and the four query resolvers.

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edgebrain/mcp-hub/internal/metrics"
	"github.com/edgebrain/mcp-hub/internal/protocol"
	"github.com/edgebrain/mcp-hub/internal/session"
	"github.com/edgebrain/mcp-hub/internal/store"
)

type handlerFunc func(ctx context.Context, agentID string, raw []byte)

// Router decodes inbound envelopes, dispatches them by message kind, and
// performs outbound delivery. One instance serves all sessions.
type Router struct {
	registry *session.Registry
	facade   *store.Facade
	metrics  *metrics.Metrics
	logger   *slog.Logger

	handlers map[protocol.Kind]handlerFunc
}

// NewRouter builds the router and its fixed dispatch table.
func NewRouter(registry *session.Registry, facade *store.Facade, m *metrics.Metrics, logger *slog.Logger) *Router {
	r := &Router{
		registry: registry,
		facade:   facade,
		metrics:  m,
		logger:   logger.With("component", "router"),
	}
	r.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindRegister:      r.handleRegister,
		protocol.KindContextUpdate: r.handleContextUpdate,
		protocol.KindQuery:         r.handleQuery,
		protocol.KindActionRequest: r.handleActionRequest,
		protocol.KindHeartbeat:     r.handleHeartbeat,
	}
	return r
}

// HandleMessage routes one inbound frame from an agent's receive loop.
// Unknown kinds are logged and dropped, never fatal to the connection.
func (r *Router) HandleMessage(ctx context.Context, agentID string, raw []byte) {
	kind, err := protocol.PeekKind(raw)
	if err != nil {
		r.logger.Warn("invalid message from agent", "agent_id", agentID, "error", err)
		return
	}

	handler, ok := r.handlers[kind]
	if !ok {
		r.logger.Warn("unknown message kind", "agent_id", agentID, "kind", kind)
		return
	}

	r.metrics.MessagesTotal.WithLabelValues(string(kind)).Inc()
	handler(ctx, agentID, raw)
}

func (r *Router) handleRegister(ctx context.Context, agentID string, raw []byte) {
	var msg protocol.Register
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("unmarshal register failed", "agent_id", agentID, "error", err)
		return
	}

	metadata := make(map[string]any, len(msg.Metadata)+2)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	metadata["agent_type"] = msg.AgentType
	metadata["capabilities"] = msg.Capabilities

	r.registry.RegisterMetadata(agentID, metadata)

	// The durable record must exist before anyone learns about the agent.
	if err := r.facade.RegisterAgent(ctx, &store.AgentRecord{
		AgentID:      agentID,
		AgentType:    msg.AgentType,
		Capabilities: msg.Capabilities,
		Metadata:     msg.Metadata,
	}); err != nil {
		r.logger.Error("persisting registration failed", "agent_id", agentID, "error", err)
	}

	r.logger.Info("agent registered", "agent_id", agentID, "agent_type", msg.AgentType, "capabilities", msg.Capabilities)

	r.Broadcast(protocol.AgentJoined{
		Type:         protocol.KindAgentJoined,
		AgentID:      agentID,
		AgentType:    msg.AgentType,
		Capabilities: msg.Capabilities,
		Timestamp:    protocol.Now(),
	}, agentID)
}

func (r *Router) handleContextUpdate(ctx context.Context, agentID string, raw []byte) {
	var msg protocol.ContextUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("unmarshal context_update failed", "agent_id", agentID, "error", err)
		return
	}
	msg.AgentID = agentID

	if err := r.ApplyContextUpdate(ctx, &msg); err != nil {
		r.logger.Warn("invalid context_update", "agent_id", agentID, "error", err)
	}
}

// ApplyContextUpdate validates, stores, and conditionally broadcasts one
// context update. Shared by the WebSocket path and the REST mirror so both
// produce identical side effects.
func (r *Router) ApplyContextUpdate(ctx context.Context, msg *protocol.ContextUpdate) error {
	ev, err := contextEventFromUpdate(msg)
	if err != nil {
		return err
	}
	agentID := ev.AgentID

	if err := r.facade.CacheUpsert(ctx, ev); err != nil {
		r.logger.Error("caching context failed", "agent_id", agentID, "error", err)
	}
	if err := r.facade.AppendHistory(ctx, ev); err != nil {
		r.logger.Error("appending context history failed", "agent_id", agentID, "error", err)
	}
	r.metrics.ContextsTotal.Inc()

	r.logger.Info("context updated",
		"agent_id", agentID,
		"context_type", ev.ContextType,
		"priority", ev.Priority,
	)

	// Priority 1-2 updates are stored but never pushed.
	if ev.Priority >= 3 {
		r.Broadcast(protocol.ContextNotification{
			Type:      protocol.KindContextNotification,
			FromAgent: agentID,
			Context:   contextEventMap(ev),
		}, agentID)
	}
	return nil
}

func (r *Router) handleQuery(ctx context.Context, agentID string, raw []byte) {
	var msg protocol.Query
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("unmarshal query failed", "agent_id", agentID, "error", err)
		return
	}
	msg.RequestingAgent = agentID

	resp := r.ResolveQuery(ctx, &msg)
	r.SendTo(agentID, resp)
}

func (r *Router) handleActionRequest(ctx context.Context, agentID string, raw []byte) {
	var msg protocol.ActionRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("unmarshal action_request failed", "agent_id", agentID, "error", err)
		return
	}
	msg.RequestingAgent = agentID

	if _, errResp := r.RouteAction(ctx, &msg); errResp != nil {
		r.SendTo(agentID, errResp)
	}
}

func (r *Router) handleHeartbeat(ctx context.Context, agentID string, _ []byte) {
	r.registry.UpdateHeartbeat(agentID)
	if err := r.facade.TouchAgent(ctx, agentID); err != nil {
		r.logger.Warn("persisting last_seen failed", "agent_id", agentID, "error", err)
	}

	r.SendTo(agentID, protocol.Pong{
		Type:       protocol.KindPong,
		ServerTime: protocol.Now(),
	})
}

// RouteAction validates and forwards an action request, returning the
// request id (generated when absent). The error response is non-nil when
// the target is not connected; in that case nothing is logged or
// forwarded. Forwarding is fire-and-forget: the hub does not correlate the
// target's eventual reply.
func (r *Router) RouteAction(ctx context.Context, msg *protocol.ActionRequest) (string, *protocol.ActionResponse) {
	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	if !r.registry.IsConnected(msg.TargetAgent) {
		return requestID, &protocol.ActionResponse{
			Type:      protocol.KindActionResponse,
			RequestID: requestID,
			Status:    "error",
			Error:     "target agent not connected: " + msg.TargetAgent,
		}
	}

	if err := r.facade.LogAction(ctx, &store.ActionRecord{
		RequestID:       requestID,
		RequestingAgent: msg.RequestingAgent,
		TargetAgent:     msg.TargetAgent,
		Action:          msg.Action,
		Parameters:      msg.Parameters,
	}); err != nil {
		r.logger.Error("logging action failed", "request_id", requestID, "error", err)
	}
	r.metrics.ActionsTotal.Inc()

	r.SendTo(msg.TargetAgent, protocol.ActionForward{
		Type:       protocol.KindActionRequest,
		FromAgent:  msg.RequestingAgent,
		Action:     msg.Action,
		Parameters: msg.Parameters,
		RequestID:  requestID,
	})

	r.logger.Info("action routed",
		"from", msg.RequestingAgent,
		"to", msg.TargetAgent,
		"action", msg.Action,
		"request_id", requestID,
	)
	return requestID, nil
}

// ResolveQuery answers one of the four query kinds. Unknown types yield an
// error response, never a dropped connection.
func (r *Router) ResolveQuery(ctx context.Context, q *protocol.Query) *protocol.QueryResponse {
	switch q.QueryType {
	case protocol.QueryCurrentContext:
		return r.queryCurrentContext(ctx, q)
	case protocol.QuerySearchMemory:
		return r.querySearchMemory(ctx, q)
	case protocol.QueryAgentState:
		return r.queryAgentState(ctx, q)
	case protocol.QueryConversationHistory:
		return r.queryConversationHistory(ctx, q)
	default:
		return &protocol.QueryResponse{
			Type:  protocol.KindQueryResponse,
			Error: "unknown query type: " + q.QueryType,
		}
	}
}

func (r *Router) queryCurrentContext(ctx context.Context, q *protocol.Query) *protocol.QueryResponse {
	contexts, err := r.facade.CurrentContexts(ctx)
	if err != nil {
		return queryError(q.QueryType, err)
	}
	return &protocol.QueryResponse{
		Type:      protocol.KindQueryResponse,
		QueryType: q.QueryType,
		Data:      contexts,
		Timestamp: protocol.Now(),
	}
}

func (r *Router) querySearchMemory(ctx context.Context, q *protocol.Query) *protocol.QueryResponse {
	results, err := r.facade.SearchHistory(ctx, store.HistoryQuery{
		Search:      stringParam(q.Parameters, "search"),
		AgentID:     stringParam(q.Parameters, "agent_id"),
		ContextType: stringParam(q.Parameters, "context_type"),
		Limit:       intParam(q.Parameters, "limit", 10),
	})
	if err != nil {
		return queryError(q.QueryType, err)
	}
	count := len(results)
	return &protocol.QueryResponse{
		Type:      protocol.KindQueryResponse,
		QueryType: q.QueryType,
		Data:      results,
		Count:     &count,
		Timestamp: protocol.Now(),
	}
}

func (r *Router) queryAgentState(ctx context.Context, q *protocol.Query) *protocol.QueryResponse {
	target := stringParam(q.Parameters, "agent_id")
	if target == "" {
		return &protocol.QueryResponse{
			Type:  protocol.KindQueryResponse,
			Error: "agent_id required",
		}
	}

	var metadata map[string]any
	if sess, ok := r.registry.Lookup(target); ok {
		metadata = sess.Metadata
	}

	var dbInfo *store.AgentRecord
	rec, err := r.facade.AgentInfo(ctx, target)
	switch {
	case err == nil:
		dbInfo = rec
	case errors.Is(err, store.ErrNotFound):
		// never registered durably; connected state still reported
	default:
		return queryError(q.QueryType, err)
	}

	return &protocol.QueryResponse{
		Type:      protocol.KindQueryResponse,
		QueryType: q.QueryType,
		Data: map[string]any{
			"agent_id":      target,
			"connected":     r.registry.IsConnected(target),
			"metadata":      metadata,
			"database_info": dbInfo,
		},
		Timestamp: protocol.Now(),
	}
}

func (r *Router) queryConversationHistory(ctx context.Context, q *protocol.Query) *protocol.QueryResponse {
	history, err := r.facade.ConversationHistory(ctx,
		stringParam(q.Parameters, "user_id"),
		intParam(q.Parameters, "limit", 50),
	)
	if err != nil {
		return queryError(q.QueryType, err)
	}
	count := len(history)
	return &protocol.QueryResponse{
		Type:      protocol.KindQueryResponse,
		QueryType: q.QueryType,
		Data:      history,
		Count:     &count,
		Timestamp: protocol.Now(),
	}
}

// SendTo unicasts a message. A failed send evicts the session rather than
// retrying; the broken connection is treated as disconnected.
func (r *Router) SendTo(agentID string, msg any) {
	conn, ok := r.registry.Conn(agentID)
	if !ok {
		r.logger.Debug("send skipped, agent not connected", "agent_id", agentID)
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		r.logger.Warn("send failed, evicting session", "agent_id", agentID, "error", err)
		r.evict(agentID, conn)
	}
}

// Broadcast fans a message out to every connected session except exclude.
// Per-recipient failures are isolated and cause that recipient's eviction.
func (r *Router) Broadcast(msg any, exclude string) {
	conns := r.registry.Connections(exclude)
	for agentID, conn := range conns {
		if err := conn.WriteJSON(msg); err != nil {
			r.logger.Warn("broadcast delivery failed", "agent_id", agentID, "error", err)
			r.metrics.BroadcastErrors.Inc()
			r.evict(agentID, conn)
		}
	}
	r.logger.Debug("broadcast delivered", "recipients", len(conns), "exclude", exclude)
}

// evict tears down a session after a transport failure. The durable status
// update is best-effort; no agent_left is broadcast here because send
// failures are discovered lazily and the receive loop or supervisor owns
// the departure announcement.
func (r *Router) evict(agentID string, conn session.Conn) {
	_ = conn.Close()
	if r.registry.DisconnectConn(agentID, conn) {
		r.metrics.AgentsConnected.Set(float64(r.registry.CountConnected()))
		if err := r.facade.SetAgentStatus(context.Background(), agentID, "offline"); err != nil {
			r.logger.Warn("marking agent offline failed", "agent_id", agentID, "error", err)
		}
	}
}

func contextEventFromUpdate(msg *protocol.ContextUpdate) (*store.ContextEvent, error) {
	if msg.ContextType == "" {
		return nil, errors.New("context_type is required")
	}
	if msg.Data == nil {
		return nil, errors.New("data is required")
	}

	priority := msg.Priority
	if priority == 0 {
		priority = 1
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}

	ts := parseTimestamp(msg.Timestamp)

	return &store.ContextEvent{
		AgentID:     msg.AgentID,
		ContextType: msg.ContextType,
		Data:        msg.Data,
		Priority:    priority,
		Timestamp:   ts,
	}, nil
}

func contextEventMap(ev *store.ContextEvent) map[string]any {
	return map[string]any{
		"agent_id":     ev.AgentID,
		"context_type": ev.ContextType,
		"data":         ev.Data,
		"priority":     ev.Priority,
		"timestamp":    ev.Timestamp.UTC().Format(timeFormat),
	}
}

func queryError(queryType string, err error) *protocol.QueryResponse {
	return &protocol.QueryResponse{
		Type:      protocol.KindQueryResponse,
		QueryType: queryType,
		Error:     err.Error(),
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam tolerates the float64 that encoding/json produces for numbers.
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
