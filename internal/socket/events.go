package socket

import (
	"github.com/voyago/tripchat/internal/domain"
	"github.com/voyago/tripchat/internal/pubsub"
)

// Wire event names, matching the backend's real-time channel contract.
const (
	// Emitted by the client.
	evtJoinTrip    = "join_trip"
	evtLeaveTrip   = "leave_trip"
	evtSendMessage = "send_message"
	evtTypingStart = "typing_start"
	evtTypingStop  = "typing_stop"
	evtMarkRead    = "mark_read"

	// Consumed from the backend.
	evtNewMessage    = "new_message"
	evtUserOnline    = "user_online"
	evtUserOffline   = "user_offline"
	evtOnlineUsers   = "online_users"
	evtTypingStarted = "typing_started"
	evtTypingStopped = "typing_stopped"
	evtMessageRead   = "message_read"
)

// ConnectionChange reports transport status transitions. Consumers must
// treat Connected=false as "presence and typing state unknown".
type ConnectionChange struct {
	Connected bool `json:"connected"`
}

// PresenceChange reports a single user coming online or going offline.
type PresenceChange struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// OnlineSnapshot is the full authoritative set of online users, sent by the
// backend on (re)join to resync state that drifted during a disconnect.
type OnlineSnapshot struct {
	Users []domain.OnlineUser `json:"users"`
}

// TypingChange reports a remote user starting or stopping typing.
type TypingChange struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ReadReceipt reports that a user has read up to a message.
type ReadReceipt struct {
	TripID    string `json:"trip_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
}

// The closed set of events flowing over the internal bus. Every component
// subscribes through these; there are no other topics.
var (
	EventConnection    = pubsub.NewEvent[ConnectionChange]("socket.connection")
	EventNewMessage    = pubsub.NewEvent[domain.Message]("chat.message.new")
	EventUserOnline    = pubsub.NewEvent[PresenceChange]("presence.user.online")
	EventUserOffline   = pubsub.NewEvent[PresenceChange]("presence.user.offline")
	EventOnlineUsers   = pubsub.NewEvent[OnlineSnapshot]("presence.snapshot")
	EventTypingStarted = pubsub.NewEvent[TypingChange]("typing.started")
	EventTypingStopped = pubsub.NewEvent[TypingChange]("typing.stopped")
	EventMessageRead   = pubsub.NewEvent[ReadReceipt]("chat.message.read")
)
