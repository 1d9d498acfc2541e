// Package presence maintains the two volatile views of the active trip
// conversation: who is online and who is typing. Both are fed by server push
// events and self-expire so a lost "stopped" signal cannot leave a stuck
// indicator.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voyago/tripchat/internal/domain"
	"github.com/voyago/tripchat/internal/pubsub"
	"github.com/voyago/tripchat/internal/socket"
)

// DefaultTypingTTL is how long a typing indicator survives without a fresh
// "started" signal, and how long local keyboard silence lasts before a
// typing_stop is emitted.
const DefaultTypingTTL = 2 * time.Second

// Emitter is the outbound half the tracker needs from the connection
// manager: signaling the local user's typing state for the joined trip.
type Emitter interface {
	StartTyping(tripID string) error
	StopTyping(tripID string) error
	Room() string
}

// Tracker owns the typing set and the online map. It is the only writer of
// both; consumers read through TypingUsers and OnlineUsers.
type Tracker struct {
	emitter Emitter
	logger  *slog.Logger
	ttl     time.Duration

	mu           sync.RWMutex
	typing       map[string]domain.TypingUser
	typingTimers map[string]*time.Timer
	online       map[string]domain.OnlineUser

	localMu     sync.Mutex
	localTimer  *time.Timer
	localActive bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTypingTTL overrides the typing expiry window. Useful in tests.
func WithTypingTTL(d time.Duration) Option {
	return func(t *Tracker) { t.ttl = d }
}

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// NewTracker creates a tracker. Call Start to begin consuming events.
func NewTracker(emitter Emitter, opts ...Option) *Tracker {
	t := &Tracker{
		emitter:      emitter,
		logger:       slog.Default().With("component", "presence"),
		ttl:          DefaultTypingTTL,
		typing:       make(map[string]domain.TypingUser),
		typingTimers: make(map[string]*time.Timer),
		online:       make(map[string]domain.OnlineUser),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start subscribes the tracker to the event bus. Subscriptions live until
// the context is canceled.
func (t *Tracker) Start(ctx context.Context, sub pubsub.Subscriber) error {
	if err := pubsub.SubscribeTo(ctx, sub, socket.EventTypingStarted, t.handleTypingStarted); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, sub, socket.EventTypingStopped, t.handleTypingStopped); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, sub, socket.EventUserOnline, t.handleUserOnline); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, sub, socket.EventUserOffline, t.handleUserOffline); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, sub, socket.EventOnlineUsers, t.handleSnapshot); err != nil {
		return err
	}
	if err := pubsub.SubscribeTo(ctx, sub, socket.EventConnection, t.handleConnection); err != nil {
		return err
	}

	t.logger.Debug("Presence tracker subscribed")
	return nil
}

func (t *Tracker) handleTypingStarted(ctx context.Context, change socket.TypingChange) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Idempotent: a repeat "started" only refreshes the expiry timer.
	t.typing[change.UserID] = domain.TypingUser{
		UserID:   change.UserID,
		Username: change.Username,
	}

	if timer, ok := t.typingTimers[change.UserID]; ok {
		timer.Stop()
	}
	userID := change.UserID
	t.typingTimers[userID] = time.AfterFunc(t.ttl, func() {
		t.expireTyping(userID)
	})
	return nil
}

func (t *Tracker) handleTypingStopped(ctx context.Context, change socket.TypingChange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeTypingLocked(change.UserID)
	return nil
}

// expireTyping removes a typing entry whose 2s window lapsed without a
// stop signal. Stale indicators are worse than no indicators.
func (t *Tracker) expireTyping(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.typing[userID]; ok {
		t.logger.Debug("Typing indicator expired", "user_id", userID)
		t.removeTypingLocked(userID)
	}
}

func (t *Tracker) removeTypingLocked(userID string) {
	delete(t.typing, userID)
	if timer, ok := t.typingTimers[userID]; ok {
		timer.Stop()
		delete(t.typingTimers, userID)
	}
}

func (t *Tracker) handleUserOnline(ctx context.Context, change socket.PresenceChange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[change.UserID] = domain.OnlineUser{
		UserID:   change.UserID,
		Username: change.Username,
		Online:   true,
		LastSeen: Now(),
	}
	return nil
}

// handleUserOffline flips the entry rather than deleting it, so the
// last-known name and last-seen time survive for the session.
func (t *Tracker) handleUserOffline(ctx context.Context, change socket.PresenceChange) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.online[change.UserID]
	if !ok {
		entry = domain.OnlineUser{UserID: change.UserID, Username: change.Username}
	}
	entry.Online = false
	entry.LastSeen = Now()
	t.online[change.UserID] = entry
	return nil
}

// handleSnapshot replaces the online map wholesale with the server's
// authoritative set, resyncing state that drifted during a disconnect.
func (t *Tracker) handleSnapshot(ctx context.Context, snapshot socket.OnlineSnapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]domain.OnlineUser, len(snapshot.Users))
	for _, u := range snapshot.Users {
		if u.LastSeen.IsZero() {
			u.LastSeen = Now()
		}
		t.online[u.UserID] = u
	}
	return nil
}

// handleConnection clears both sets on disconnect; they are repopulated from
// the next snapshot after reconnection and rejoin.
func (t *Tracker) handleConnection(ctx context.Context, change socket.ConnectionChange) error {
	if change.Connected {
		return nil
	}

	t.mu.Lock()
	for userID := range t.typingTimers {
		t.typingTimers[userID].Stop()
	}
	t.typing = make(map[string]domain.TypingUser)
	t.typingTimers = make(map[string]*time.Timer)
	t.online = make(map[string]domain.OnlineUser)
	t.mu.Unlock()

	t.localMu.Lock()
	if t.localTimer != nil {
		t.localTimer.Stop()
		t.localTimer = nil
	}
	t.localActive = false
	t.localMu.Unlock()

	t.logger.Info("Cleared presence state on disconnect")
	return nil
}

// Keystroke reports local typing activity. The first keystroke of a burst
// emits typing_start immediately; each keystroke re-arms a single inactivity
// timer that emits typing_stop after the TTL elapses with no further input.
func (t *Tracker) Keystroke() {
	room := t.emitter.Room()
	if room == "" {
		return
	}

	t.localMu.Lock()
	defer t.localMu.Unlock()

	if !t.localActive {
		t.localActive = true
		if err := t.emitter.StartTyping(room); err != nil {
			t.logger.Debug("Could not signal typing start", "error", err)
		}
	}

	if t.localTimer != nil {
		t.localTimer.Stop()
	}
	t.localTimer = time.AfterFunc(t.ttl, t.stopLocalTyping)
}

// StopTyping ends the local typing burst immediately (e.g. the message was
// sent), emitting typing_stop if a burst was active.
func (t *Tracker) StopTyping() {
	t.localMu.Lock()
	if t.localTimer != nil {
		t.localTimer.Stop()
		t.localTimer = nil
	}
	t.localMu.Unlock()
	t.stopLocalTyping()
}

func (t *Tracker) stopLocalTyping() {
	t.localMu.Lock()
	defer t.localMu.Unlock()

	if !t.localActive {
		return
	}
	t.localActive = false

	room := t.emitter.Room()
	if room == "" {
		return
	}
	if err := t.emitter.StopTyping(room); err != nil {
		t.logger.Debug("Could not signal typing stop", "error", err)
	}
}

// TypingUsers returns the users currently typing, ordered by user ID.
func (t *Tracker) TypingUsers() []domain.TypingUser {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]domain.TypingUser, 0, len(t.typing))
	for _, u := range t.typing {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// OnlineUsers returns every tracked user, online and offline, ordered by
// user ID.
func (t *Tracker) OnlineUsers() []domain.OnlineUser {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]domain.OnlineUser, 0, len(t.online))
	for _, u := range t.online {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// IsOnline reports whether a specific user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID].Online
}
