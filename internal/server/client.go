package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// client represents a single connected WebSocket session. The room field is
// owned by the hub loop and must not be touched from the pumps.
type client struct {
	userID   string
	username string
	conn     *websocket.Conn
	send     chan []byte
	room     string
}

// enqueue performs a non-blocking send to the client's outbound queue.
// It reports false when the queue is full, which the hub treats as a
// dead or stuck connection.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump reads frames from the WebSocket connection and forwards them
// to the hub loop until the connection dies.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "client disconnected")
	}()

	for {
		_, raw, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				slog.Info("WebSocket closed by client", "userID", c.userID)
			} else if err != io.EOF {
				slog.Error("WebSocket read error", "userID", c.userID, "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Warn("Dropping malformed frame", "userID", c.userID, "error", err)
			continue
		}
		h.incoming <- inbound{client: c, frame: f}
	}
}

// writePump drains the client's send queue onto the wire.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close(websocket.StatusNormalClosure, "server-side cleanup")

	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			slog.Error("WebSocket write error", "userID", c.userID, "error", err)
			return
		}
	}
}
