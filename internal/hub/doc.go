// Package hub orchestrates the mcp-hub server components.
//
// # Overview
//
// The hub package is the central coordinator of the mcp-hub server. It
// owns and wires the major components: the WebSocket endpoint agents
// connect to, the session registry, the heartbeat supervisor, the
// message router, the context store facade, and the HTTP API that
// mirrors the router for callers that cannot hold a connection.
//
// # Hub Struct
//
// The Hub struct is the main entry point:
//
//	type Hub struct {
//	    config     *config.Config
//	    registry   *session.Registry
//	    supervisor *session.Supervisor
//	    router     *Router
//	    facade     *store.Facade
//	    metrics    *metrics.Metrics
//	    httpServer *http.Server
//	    // ... and more
//	}
//
// Construct with New and drive with Run, which blocks until the context
// is cancelled and then shuts the HTTP server down gracefully.
//
// # Message Flow
//
// Every frame read from an agent connection goes through
// Router.HandleMessage, which peeks the "type" field and dispatches to
// one of the registered handlers: register, context_update, query,
// action_request, heartbeat. Unknown types are logged and dropped so a
// misbehaving agent cannot take its connection down.
//
// Outbound delivery always goes through Router.SendTo or
// Router.Broadcast. A failed write evicts the session immediately
// rather than leaving a half-dead connection for the supervisor to find
// a minute later.
//
// # HTTP API
//
// The REST surface reuses the same router methods as the WebSocket
// path, so both entry points share one set of semantics:
//
//	GET  /               - service info
//	GET  /health         - cache and database health
//	GET  /agents         - connected and registered agents
//	GET  /agents/status  - per-session connection detail
//	GET  /stats          - storage counters
//	GET  /metrics        - Prometheus exposition
//	POST /context/update - publish a context event
//	POST /query          - resolve a query synchronously
//	POST /action/request - route an action to a target agent
//	POST /broadcast      - fan a raw message out to all agents
//
// When auth.jwt_secret is configured every route and the WebSocket
// upgrade require a bearer token; otherwise auth is disabled.
package hub
