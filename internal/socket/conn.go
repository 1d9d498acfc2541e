// Package socket owns the single live websocket connection to the chat
// backend: dialing, authentication, reconnection, and trip-room membership.
// Inbound frames are decoded and republished as typed events on the internal
// bus; nothing else in the client touches the transport.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voyago/tripchat/internal/domain"
	"github.com/voyago/tripchat/internal/pubsub"
)

const (
	defaultBackoffBase = 1 * time.Second
	defaultBackoffCap  = 5 * time.Second
	defaultMaxAttempts = 5

	writeTimeout = 10 * time.Second
)

// TokenSource supplies the bearer credential read at connect time.
type TokenSource interface {
	Load() (string, error)
}

// DialFunc establishes a websocket connection. Tests substitute their own to
// count and intercept dials.
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	return conn, err
}

// frame is the wire envelope for both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn manages exactly one live connection to the chat backend. All transport
// failures surface as EventConnection on the bus, never as errors thrown to
// the code paths that triggered I/O.
type Conn struct {
	wsURL  string
	tokens TokenSource
	bus    pubsub.Publisher
	logger *slog.Logger

	dial        DialFunc
	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	room      string
	closing   bool
	retrying  bool
	runCtx    context.Context
	runCancel context.CancelFunc

	writeMu sync.Mutex
}

// Option configures a Conn.
type Option func(*Conn)

// WithDialFunc overrides how the websocket connection is established.
func WithDialFunc(dial DialFunc) Option {
	return func(c *Conn) { c.dial = dial }
}

// WithBackoff overrides the reconnect delay progression.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Conn) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithMaxAttempts overrides how many consecutive reconnect attempts are made
// before giving up until the next explicit Connect.
func WithMaxAttempts(n int) Option {
	return func(c *Conn) { c.maxAttempts = n }
}

// NewConn creates a connection manager. It does not dial; call Connect.
func NewConn(wsURL string, tokens TokenSource, bus pubsub.Publisher, opts ...Option) *Conn {
	c := &Conn{
		wsURL:       wsURL,
		tokens:      tokens,
		bus:         bus,
		logger:      slog.Default().With("component", "socket"),
		dial:        defaultDial,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the connection. It is a no-op when already connected.
// A missing stored credential is an expected state (logged-out user): it is
// logged and swallowed, not returned. Dial failures enter the background
// retry loop; they are reported through EventConnection rather than here.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Debug("Connect called while already connected")
		return nil
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	c.runCtx, c.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	c.closing = false
	c.mu.Unlock()

	token, err := c.tokens.Load()
	if err != nil {
		if errors.Is(err, domain.ErrNoCredentials) {
			c.logger.Info("No stored credentials, skipping socket connect")
		} else {
			c.logger.Error("Failed to load credentials", "error", err)
		}
		return nil
	}

	if err := c.dialOnce(ctx, token); err != nil {
		c.logger.Warn("Initial socket dial failed, scheduling retries", "error", err)
		c.publishConnection(false)
		go c.retryLoop()
	}
	return nil
}

// dialOnce performs a single dial and, on success, installs the connection.
func (c *Conn) dialOnce(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, err := c.dial(ctx, c.wsURL, header)
	if err != nil {
		return err
	}
	c.establish(ws)
	return nil
}

// establish installs a freshly dialed connection, starts the read pump, and
// re-issues the trip join if one was active before, making reconnection
// transparent to room membership.
func (c *Conn) establish(ws *websocket.Conn) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "client closing")
		return
	}
	c.ws = ws
	c.connected = true
	room := c.room
	ctx := c.runCtx
	c.mu.Unlock()

	c.logger.Info("Socket connected", "url", c.wsURL)
	c.publishConnection(true)

	if room != "" {
		c.logger.Info("Rejoining trip after reconnect", "trip_id", room)
		if err := c.emit(evtJoinTrip, joinPayload{TripID: room}); err != nil {
			c.logger.Error("Failed to rejoin trip", "trip_id", room, "error", err)
		}
	}

	go c.readPump(ctx, ws)
}

// readPump reads frames until the connection fails or is closed.
func (c *Conn) readPump(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.handleDrop(ws, err)
			return
		}
		c.dispatch(ctx, data)
	}
}

// handleDrop reacts to a read failure. Deliberate disconnects were already
// handled; anything else flips the status and starts the retry loop.
func (c *Conn) handleDrop(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// A stale pump from a connection that was already replaced.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connected = false
	deliberate := c.closing
	c.mu.Unlock()

	if deliberate || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.logger.Info("Socket closed")
		return
	}

	c.logger.Warn("Socket connection lost", "error", err)
	c.publishConnection(false)
	go c.retryLoop()
}

// retryLoop re-dials with a linear backoff starting at backoffBase and capped
// at backoffCap, abandoning after maxAttempts consecutive failures. After
// that the caller must invoke Connect again; there is no infinite retry.
func (c *Conn) retryLoop() {
	c.mu.Lock()
	if c.retrying || c.closing {
		c.mu.Unlock()
		return
	}
	c.retrying = true
	ctx := c.runCtx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.retrying = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		delay := time.Duration(attempt) * c.backoffBase
		if delay > c.backoffCap {
			delay = c.backoffCap
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		closing := c.closing
		connected := c.connected
		c.mu.Unlock()
		if closing || connected {
			return
		}

		token, err := c.tokens.Load()
		if err != nil {
			c.logger.Info("Credentials gone, abandoning reconnect", "error", err)
			return
		}

		c.logger.Info("Reconnect attempt", "attempt", attempt, "max", c.maxAttempts)
		if err := c.dialOnce(ctx, token); err == nil {
			return
		} else {
			c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
		}
	}

	c.logger.Error("Reconnect attempts exhausted, staying offline until Connect is called again",
		"attempts", c.maxAttempts)
}

// Disconnect tears the connection down, forgets the joined trip, and stops
// any pending reconnects. It is idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.room = ""
	ws := c.ws
	wasConnected := c.connected
	c.ws = nil
	c.connected = false
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if wasConnected {
		c.publishConnection(false)
	}
}

// Connected reports whether the transport is currently live.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Room returns the currently joined trip, or "" when none is joined.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

type joinPayload struct {
	TripID string `json:"trip_id"`
}

// Join subscribes to a trip's live events. When the transport is down this is
// a logged no-op; the caller retries after reconnection. Joining does not
// leave a previously joined trip.
func (c *Conn) Join(tripID string) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.logger.Warn("Cannot join trip, socket not connected", "trip_id", tripID)
		return
	}
	c.room = tripID
	c.mu.Unlock()

	if err := c.emit(evtJoinTrip, joinPayload{TripID: tripID}); err != nil {
		c.logger.Error("Failed to send join", "trip_id", tripID, "error", err)
	}
}

// Leave unsubscribes from a trip's live events. The current-room record is
// only cleared when tripID matches it, so a stale leave cannot clobber a
// newer join.
func (c *Conn) Leave(tripID string) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.logger.Warn("Cannot leave trip, socket not connected", "trip_id", tripID)
		return
	}
	if c.room == tripID {
		c.room = ""
	}
	c.mu.Unlock()

	if err := c.emit(evtLeaveTrip, joinPayload{TripID: tripID}); err != nil {
		c.logger.Error("Failed to send leave", "trip_id", tripID, "error", err)
	}
}

type sendPayload struct {
	TripID        string `json:"trip_id"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SendMessage emits a chat message over the live channel. The backend's echo
// of the persisted message is what eventually lands in the message store.
func (c *Conn) SendMessage(tripID, content, correlationID string) error {
	return c.emit(evtSendMessage, sendPayload{
		TripID:        tripID,
		Content:       content,
		CorrelationID: correlationID,
	})
}

// StartTyping signals that the local user began typing in the trip.
func (c *Conn) StartTyping(tripID string) error {
	return c.emit(evtTypingStart, joinPayload{TripID: tripID})
}

// StopTyping signals that the local user stopped typing in the trip.
func (c *Conn) StopTyping(tripID string) error {
	return c.emit(evtTypingStop, joinPayload{TripID: tripID})
}

type markReadPayload struct {
	TripID    string `json:"trip_id"`
	MessageID string `json:"message_id"`
}

// MarkRead reports the newest message the local user has seen.
func (c *Conn) MarkRead(tripID, messageID string) error {
	return c.emit(evtMarkRead, markReadPayload{TripID: tripID, MessageID: messageID})
}

// emit writes one frame. Writes while disconnected return ErrNotConnected,
// which callers treat as a logged no-op, not a failure.
func (c *Conn) emit(event string, data any) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()

	if !connected || ws == nil {
		c.logger.Debug("Dropping emit while disconnected", "event", event)
		return domain.ErrNotConnected
	}

	payload, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
		c.logger.Error("Socket write failed", "event", event, "error", err)
		return err
	}
	return nil
}

// dispatch decodes an inbound frame and republishes it as the matching typed
// event. Unknown or malformed frames are logged and dropped; a bad frame must
// never take the connection down.
func (c *Conn) dispatch(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("Dropping malformed frame", "error", err)
		return
	}

	switch f.Event {
	case evtNewMessage:
		forward(ctx, c, EventNewMessage, f.Data)
	case evtUserOnline:
		forward(ctx, c, EventUserOnline, f.Data)
	case evtUserOffline:
		forward(ctx, c, EventUserOffline, f.Data)
	case evtOnlineUsers:
		forward(ctx, c, EventOnlineUsers, f.Data)
	case evtTypingStarted:
		forward(ctx, c, EventTypingStarted, f.Data)
	case evtTypingStopped:
		forward(ctx, c, EventTypingStopped, f.Data)
	case evtMessageRead:
		forward(ctx, c, EventMessageRead, f.Data)
	default:
		c.logger.Debug("Ignoring unknown event", "event", f.Event)
	}
}

// forward validates the raw payload against the event's type and publishes it.
func forward[T any](ctx context.Context, c *Conn, event pubsub.Event[T], raw json.RawMessage) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("Dropping undecodable payload", "event", event.Topic(), "error", err)
		return
	}
	if err := pubsub.Publish(ctx, c.bus, event, payload); err != nil {
		c.logger.Error("Failed to publish event", "event", event.Topic(), "error", err)
	}
}

func (c *Conn) publishConnection(connected bool) {
	err := pubsub.Publish(context.Background(), c.bus, EventConnection, ConnectionChange{Connected: connected})
	if err != nil {
		c.logger.Error("Failed to publish connection status", "connected", connected, "error", err)
	}
}
