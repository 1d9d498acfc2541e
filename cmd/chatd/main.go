package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voyago/tripchat/internal/logging"
	"github.com/voyago/tripchat/internal/server"
)

func main() {
	logging.New()

	addr := os.Getenv("CHATD_ADDR")
	if addr == "" {
		addr = ":8484"
	}
	// Agent replies are on by default so the client's dual-message flow
	// can be exercised out of the box.
	agentReplies := os.Getenv("CHATD_AGENT_REPLIES") != "false"

	s, err := server.New(server.Config{Addr: addr, AgentReplies: agentReplies})
	if err != nil {
		slog.Error("Failed to build server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
