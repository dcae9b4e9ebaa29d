// ABOUTME: Wire message kinds and payload structs for the hub WebSocket protocol.
// ABOUTME: Every frame is a flat JSON object whose "type" field selects the kind.

package protocol

import (
	"encoding/json"
	"time"
)

// Kind identifies a wire message type.
type Kind string

// Agent-originated message kinds.
const (
	KindRegister      Kind = "register"
	KindContextUpdate Kind = "context_update"
	KindQuery         Kind = "query"
	KindActionRequest Kind = "action_request"
	KindHeartbeat     Kind = "heartbeat"
	KindPong          Kind = "pong"
)

// Server-pushed message kinds. Agents never send these.
const (
	KindConnectionEstablished Kind = "connection_established"
	KindAgentJoined           Kind = "agent_joined"
	KindAgentLeft             Kind = "agent_left"
	KindAgentTimeout          Kind = "agent_timeout"
	KindContextNotification   Kind = "context_notification"
	KindActionResponse        Kind = "action_response"
	KindQueryResponse         Kind = "query_response"
	KindPing                  Kind = "ping"
)

// Query types accepted inside a query message.
const (
	QueryCurrentContext      = "get_current_context"
	QuerySearchMemory        = "search_memory"
	QueryAgentState          = "get_agent_state"
	QueryConversationHistory = "get_conversation_history"
)

// PeekKind extracts the "type" field from a raw frame without decoding the
// rest. Returns an empty Kind if the frame is not a JSON object.
func PeekKind(raw []byte) (Kind, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", err
	}
	return probe.Type, nil
}

// Register announces an agent's type, capabilities, and free-form metadata.
type Register struct {
	Type         Kind           `json:"type"`
	AgentType    string         `json:"agent_type"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata"`
}

// ContextUpdate publishes one context event. Priority is clamped to [1,5]
// by the router; Timestamp defaults to receipt time when absent.
type ContextUpdate struct {
	Type        Kind           `json:"type"`
	AgentID     string         `json:"agent_id,omitempty"`
	ContextType string         `json:"context_type"`
	Data        map[string]any `json:"data"`
	Priority    int            `json:"priority,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// Query asks the hub a question; the answer is unicast back as a
// QueryResponse, never broadcast.
type Query struct {
	Type            Kind           `json:"type"`
	RequestingAgent string         `json:"requesting_agent,omitempty"`
	QueryType       string         `json:"query_type"`
	Parameters      map[string]any `json:"parameters"`
}

// ActionRequest asks the hub to forward an action to another agent.
type ActionRequest struct {
	Type            Kind           `json:"type"`
	RequestingAgent string         `json:"requesting_agent,omitempty"`
	TargetAgent     string         `json:"target_agent"`
	Action          string         `json:"action"`
	Parameters      map[string]any `json:"parameters"`
	RequestID       string         `json:"request_id,omitempty"`
}

// Heartbeat is an empty liveness signal; the hub replies with Pong.
type Heartbeat struct {
	Type Kind `json:"type"`
}

// ConnectionEstablished is the hub's greeting after transport accept.
type ConnectionEstablished struct {
	Type       Kind   `json:"type"`
	AgentID    string `json:"agent_id"`
	ServerTime string `json:"server_time"`
	Message    string `json:"message"`
}

// AgentJoined is broadcast (excluding the sender) after a registration.
type AgentJoined struct {
	Type         Kind     `json:"type"`
	AgentID      string   `json:"agent_id"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	Timestamp    string   `json:"timestamp"`
}

// AgentLeft is broadcast when an agent disconnects cleanly or with an error.
type AgentLeft struct {
	Type      Kind   `json:"type"`
	AgentID   string `json:"agent_id"`
	Timestamp string `json:"timestamp"`
}

// AgentTimeout is broadcast when the heartbeat supervisor evicts an agent.
type AgentTimeout struct {
	Type      Kind   `json:"type"`
	AgentID   string `json:"agent_id"`
	Timestamp string `json:"timestamp"`
}

// ContextNotification carries a high-priority context event to other agents.
type ContextNotification struct {
	Type      Kind           `json:"type"`
	FromAgent string         `json:"from_agent"`
	Context   map[string]any `json:"context"`
}

// ActionForward is the envelope delivered to the target of an action request.
type ActionForward struct {
	Type       Kind           `json:"type"`
	FromAgent  string         `json:"from_agent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	RequestID  string         `json:"request_id"`
}

// ActionResponse reports the outcome of an action request back to the
// requester. The hub itself only ever sends the error case.
type ActionResponse struct {
	Type      Kind           `json:"type"`
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// QueryResponse answers a Query. Data shape depends on the query type.
type QueryResponse struct {
	Type      Kind   `json:"type"`
	QueryType string `json:"query_type,omitempty"`
	Data      any    `json:"data,omitempty"`
	Count     *int   `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Pong answers a Heartbeat with the hub's clock.
type Pong struct {
	Type       Kind   `json:"type"`
	ServerTime string `json:"server_time"`
}

// Now formats a timestamp the way all wire messages carry them.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
