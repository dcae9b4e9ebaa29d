// Package peerclient is the Go client library for agents connecting to
// an mcp-hub server.
//
// A Client owns one logical connection: it registers on connect, beats
// a heartbeat every 30 seconds, dispatches inbound messages by type,
// and reconnects with capped exponential backoff when the transport
// drops. Applications register handlers with On, then call Run:
//
//	c := peerclient.New(peerclient.Options{
//	    URL:       "ws://localhost:8765",
//	    AgentID:   "jetson",
//	    AgentType: "vision",
//	})
//	c.On(protocol.KindActionRequest, handleAction)
//	err := c.Run(ctx)
//
// Messages sent while disconnected are dropped, not queued; agents
// should republish their state after reconnecting.
package peerclient
