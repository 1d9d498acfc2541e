package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voyago/tripchat/internal/chatstore"
	"github.com/voyago/tripchat/internal/domain"
	"github.com/voyago/tripchat/internal/presence"
	"github.com/voyago/tripchat/internal/pubsub"
	"github.com/voyago/tripchat/internal/socket"
)

var chatCmd = &cobra.Command{
	Use:   "chat <trip-id>",
	Short: "Join a trip's chat room interactively",
	Long: `Connects to the chat service, joins the trip's room and relays your
input as messages. Incoming messages, presence changes and typing
indicators are printed as they arrive. Type /quit to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	tripID := args[0]
	out := cmd.OutOrStdout()

	e, err := newEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := pubsub.NewWatermillBus()
	defer bus.Close()

	conn := socket.NewConn(e.cfg.WSURL, e.tokens, bus)
	store := chatstore.NewStore(e.api, conn)
	tracker := presence.NewTracker(conn)

	if err := store.Start(ctx, bus); err != nil {
		return err
	}
	if err := tracker.Start(ctx, bus); err != nil {
		return err
	}
	if err := subscribePrinters(ctx, bus, out); err != nil {
		return err
	}

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Disconnect()

	if err := store.Fetch(ctx, tripID); err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	for _, msg := range store.Messages() {
		fmt.Fprintln(out, formatMessage(msg))
	}

	conn.Join(tripID)
	defer conn.Leave(tripID)

	// Disconnect when the stored token disappears, e.g. a logout from
	// another terminal.
	go func() {
		err := e.tokens.Watch(ctx, func() {
			if _, loadErr := e.tokens.Load(); loadErr != nil {
				fmt.Fprintln(out, "* credentials removed, disconnecting")
				conn.Disconnect()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Token watcher stopped", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			tracker.Keystroke()
			if err := store.Send(ctx, tripID, line); err != nil {
				fmt.Fprintln(out, "* send failed:", err)
			}
			tracker.StopTyping()
		}
	}
}

// subscribePrinters renders bus traffic for the terminal.
func subscribePrinters(ctx context.Context, bus pubsub.Bus, out io.Writer) error {
	if err := pubsub.SubscribeTo(ctx, bus, socket.EventNewMessage, func(ctx context.Context, msg domain.Message) error {
		fmt.Fprintln(out, formatMessage(msg))
		return nil
	}); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, bus, socket.EventConnection, func(ctx context.Context, change socket.ConnectionChange) error {
		if change.Connected {
			fmt.Fprintln(out, "* connected")
		} else {
			fmt.Fprintln(out, "* disconnected")
		}
		return nil
	}); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, bus, socket.EventUserOnline, func(ctx context.Context, p socket.PresenceChange) error {
		fmt.Fprintf(out, "* %s is online\n", p.Username)
		return nil
	}); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, bus, socket.EventUserOffline, func(ctx context.Context, p socket.PresenceChange) error {
		fmt.Fprintf(out, "* %s went offline\n", p.Username)
		return nil
	}); err != nil {
		return err
	}
	return pubsub.SubscribeTo(ctx, bus, socket.EventTypingStarted, func(ctx context.Context, p socket.TypingChange) error {
		fmt.Fprintf(out, "* %s is typing...\n", p.Username)
		return nil
	})
}
