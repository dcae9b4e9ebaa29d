// ABOUTME: Minimal agent for E2E testing — connects over WebSocket, echoes action requests.
// ABOUTME: Usage: mcp-agent [-url ws://localhost:8765] [-id echo-agent] [-type utility]

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/edgebrain/mcp-hub/internal/peerclient"
	"github.com/edgebrain/mcp-hub/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8765", "hub WebSocket base URL")
	agentID := flag.String("id", "echo-agent", "agent ID")
	agentType := flag.String("type", "utility", "agent type reported on registration")
	token := flag.String("token", os.Getenv("MCP_HUB_TOKEN"), "bearer token when the hub requires auth")
	flag.Parse()

	if err := run(*url, *agentID, *agentType, *token); err != nil {
		log.Fatal(err)
	}
}

func run(url, agentID, agentType, token string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	client := peerclient.New(peerclient.Options{
		URL:          url,
		AgentID:      agentID,
		AgentType:    agentType,
		Capabilities: []string{"echo"},
		Token:        token,
		Logger:       logger,
	})

	client.On(protocol.KindConnectionEstablished, func(raw []byte) {
		var msg protocol.ConnectionEstablished
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "connected as %s: %s\n", msg.AgentID, msg.Message)
	})

	// Echo any routed action back as a successful response.
	client.On(protocol.KindActionRequest, func(raw []byte) {
		var msg protocol.ActionForward
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("bad action request", "error", err)
			return
		}
		logger.Info("received action", "from", msg.FromAgent, "action", msg.Action)

		_ = client.Send(&protocol.ActionResponse{
			Type:      protocol.KindActionResponse,
			RequestID: msg.RequestID,
			Status:    "success",
			Result: map[string]any{
				"echo":       msg.Action,
				"parameters": msg.Parameters,
			},
		})
	})

	client.On(protocol.KindContextNotification, func(raw []byte) {
		var msg protocol.ContextNotification
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		logger.Info("context notification", "from", msg.FromAgent)
	})

	err := client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil // graceful shutdown
	}
	return err
}
