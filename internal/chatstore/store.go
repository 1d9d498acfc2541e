// Package chatstore presents one consistent, de-duplicated message list for
// the active trip, reconciling the authoritative REST history with the live
// socket push channel.
package chatstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voyago/tripchat/internal/domain"
	"github.com/voyago/tripchat/internal/pubsub"
	"github.com/voyago/tripchat/internal/socket"
)

// DefaultSendTimeout bounds how long the sending flag stays up waiting for
// the backend's echo. The echo normally clears it much sooner via the send's
// correlation ID.
const DefaultSendTimeout = 10 * time.Second

const metaCorrelationID = "correlation_id"

// HistoryAPI is the REST half of the backend boundary.
type HistoryAPI interface {
	Messages(ctx context.Context, tripID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, tripID, content string) (domain.SendResult, error)
}

// Transport is the live half: fire-and-forget sends over the socket.
type Transport interface {
	SendMessage(tripID, content, correlationID string) error
	Connected() bool
}

// Store owns the message list for the active trip. It is the only writer;
// the REST fetch and the live-push listener both funnel through it.
type Store struct {
	api       HistoryAPI
	transport Transport
	logger    *slog.Logger

	sendTimeout time.Duration

	mu       sync.RWMutex
	tripID   string
	messages []domain.Message
	seen     map[string]struct{}
	loading  bool

	sending     bool
	pendingCorr string
	sendTimer   *time.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithSendTimeout overrides the sending-flag safety timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Store) { s.sendTimeout = d }
}

// NewStore creates a message store. Call Start to attach it to the bus.
func NewStore(api HistoryAPI, transport Transport, opts ...Option) *Store {
	s := &Store{
		api:         api,
		transport:   transport,
		logger:      slog.Default().With("component", "chatstore"),
		sendTimeout: DefaultSendTimeout,
		seen:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes the store to live message pushes.
func (s *Store) Start(ctx context.Context, sub pubsub.Subscriber) error {
	return pubsub.SubscribeTo(ctx, sub, socket.EventNewMessage,
		func(ctx context.Context, msg domain.Message) error {
			s.add(msg)
			return nil
		})
}

// Fetch replaces the entire list with the server's authoritative history for
// the trip. A failed fetch leaves the list empty and surfaces the error; a
// canceled fetch leaves the previous list untouched.
func (s *Store) Fetch(ctx context.Context, tripID string) error {
	s.mu.Lock()
	s.loading = true
	s.tripID = tripID
	s.mu.Unlock()

	history, err := s.api.Messages(ctx, tripID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.messages = nil
		s.seen = make(map[string]struct{})
		return err
	}

	s.messages = make([]domain.Message, len(history))
	copy(s.messages, history)
	s.seen = make(map[string]struct{}, len(history))
	for _, msg := range history {
		s.seen[msg.ID] = struct{}{}
	}
	return nil
}

// add appends a live-pushed message unless its identifier is already known.
// This is the sole deduplication boundary between the two channels: the
// fetch and the push naturally race, and this check is what keeps the list
// duplicate-free.
func (s *Store) add(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tripID != "" && msg.TripID != "" && msg.TripID != s.tripID {
		s.logger.Debug("Dropping message for inactive trip", "trip_id", msg.TripID)
		return
	}

	if _, dup := s.seen[msg.ID]; dup {
		s.logger.Debug("Dropping duplicate message", "message_id", msg.ID)
		s.resolveSendLocked(msg)
		return
	}

	s.messages = append(s.messages, msg)
	s.seen[msg.ID] = struct{}{}
	s.resolveSendLocked(msg)
}

// resolveSendLocked clears the sending flag when the echoed message carries
// the correlation ID of the in-flight send.
func (s *Store) resolveSendLocked(msg domain.Message) {
	if !s.sending || s.pendingCorr == "" {
		return
	}
	if msg.Metadata[metaCorrelationID] != s.pendingCorr {
		return
	}
	s.clearSendingLocked()
}

func (s *Store) clearSendingLocked() {
	s.sending = false
	s.pendingCorr = ""
	if s.sendTimer != nil {
		s.sendTimer.Stop()
		s.sendTimer = nil
	}
}

// Send delivers a message, preferring the live channel. Over the socket the
// send is fire-and-forget: the backend's echo is what lands in the list, and
// the sending flag is cleared by that echo's correlation ID or by the safety
// timeout. When the socket is down, Send falls back to a synchronous REST
// round trip and appends the returned message(s) immediately.
func (s *Store) Send(ctx context.Context, tripID, content string) error {
	if s.transport.Connected() {
		corr := uuid.NewString()

		s.mu.Lock()
		s.clearSendingLocked()
		s.sending = true
		s.pendingCorr = corr
		s.sendTimer = time.AfterFunc(s.sendTimeout, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.sending && s.pendingCorr == corr {
				s.logger.Warn("Send echo never arrived, clearing sending flag", "correlation_id", corr)
				s.clearSendingLocked()
			}
		})
		s.mu.Unlock()

		err := s.transport.SendMessage(tripID, content, corr)
		if err == nil {
			return nil
		}

		// The socket dropped between the check and the write; degrade to
		// the REST path.
		s.logger.Warn("Socket send failed, falling back to REST", "error", err)
		s.mu.Lock()
		s.clearSendingLocked()
		s.mu.Unlock()
	}

	result, err := s.api.SendMessage(ctx, tripID, content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The REST response is authoritative, so it skips the dedup check; its
	// IDs are still recorded so a later socket echo is dropped.
	s.appendDirectLocked(result.UserMessage)
	if result.AgentResponse != nil {
		s.appendDirectLocked(*result.AgentResponse)
	}
	return nil
}

func (s *Store) appendDirectLocked(msg domain.Message) {
	s.messages = append(s.messages, msg)
	s.seen[msg.ID] = struct{}{}
}

// Messages returns a copy of the list in presentation order: the fetch's
// authoritative ordering with live messages appended. The store never
// re-sorts; this is correct as long as live messages timestamp after all
// fetched history.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TripID returns the trip whose messages the store currently holds.
func (s *Store) TripID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripID
}

// Loading reports whether a history fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Sending reports whether a socket send is awaiting its echo.
func (s *Store) Sending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sending
}
