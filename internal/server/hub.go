package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/voyago/tripchat/internal/domain"
)

// Wire event names understood and emitted by the hub. They mirror the
// frames the client SDK speaks.
const (
	evtJoinTrip    = "join_trip"
	evtLeaveTrip   = "leave_trip"
	evtSendMessage = "send_message"
	evtTypingStart = "typing_start"
	evtTypingStop  = "typing_stop"
	evtMarkRead    = "mark_read"

	evtNewMessage    = "new_message"
	evtUserOnline    = "user_online"
	evtUserOffline   = "user_offline"
	evtOnlineUsers   = "online_users"
	evtTypingStarted = "typing_started"
	evtTypingStopped = "typing_stopped"
	evtMessageRead   = "message_read"
)

// frame is the envelope for every frame crossing the socket.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type roomPayload struct {
	TripID string `json:"trip_id"`
}

type sendPayload struct {
	TripID        string `json:"trip_id"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlation_id"`
}

type markReadPayload struct {
	TripID    string `json:"trip_id"`
	MessageID string `json:"message_id"`
}

type presencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type snapshotPayload struct {
	Users []domain.OnlineUser `json:"users"`
}

type receiptPayload struct {
	TripID    string `json:"trip_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
}

type inbound struct {
	client *client
	frame  frame
}

// notification carries a server-originated broadcast (typically a message
// created over REST) into the hub loop from another goroutine.
type notification struct {
	tripID string
	event  string
	data   any
}

// Hub owns all active WebSocket sessions and their room membership. All
// state is confined to the Run goroutine; other goroutines talk to it
// exclusively through channels.
type Hub struct {
	store        *MessageStore
	agentReplies bool

	register   chan *client
	unregister chan *client
	incoming   chan inbound
	notify     chan notification

	clients map[*client]bool
	rooms   map[string]map[*client]bool
}

func NewHub(store *MessageStore, agentReplies bool) *Hub {
	return &Hub{
		store:        store,
		agentReplies: agentReplies,
		register:     make(chan *client),
		unregister:   make(chan *client),
		incoming:     make(chan inbound),
		notify:       make(chan notification, 16),
		clients:      make(map[*client]bool),
		rooms:        make(map[string]map[*client]bool),
	}
}

// Notify broadcasts an event to every member of a trip room. It is safe to
// call from any goroutine.
func (h *Hub) Notify(tripID, event string, data any) {
	h.notify <- notification{tripID: tripID, event: event, data: data}
}

// Run starts the hub's processing loop. It must be run in its own
// goroutine and exits when ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("Chat hub started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Chat hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = true
			slog.Info("Client connected", "userID", c.userID)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				h.leaveRoom(c)
				close(c.send)
			}
			slog.Info("Client disconnected", "userID", c.userID)

		case in := <-h.incoming:
			h.handleFrame(in.client, in.frame)

		case n := <-h.notify:
			h.broadcast(n.tripID, n.event, n.data, nil)
		}
	}
}

func (h *Hub) handleFrame(c *client, f frame) {
	switch f.Event {
	case evtJoinTrip:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.TripID == "" {
			return
		}
		h.joinRoom(c, p.TripID)

	case evtLeaveTrip:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		if c.room == p.TripID {
			h.leaveRoom(c)
		}

	case evtSendMessage:
		var p sendPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.TripID == "" || p.Content == "" {
			return
		}
		var meta map[string]string
		if p.CorrelationID != "" {
			meta = map[string]string{"correlation_id": p.CorrelationID}
		}
		msg := h.store.NewMessage(p.TripID, c.userID, c.username, domain.SenderHuman, p.Content, meta)
		h.broadcast(p.TripID, evtNewMessage, msg, nil)
		if reply, ok := h.agentReply(msg); ok {
			h.broadcast(p.TripID, evtNewMessage, reply, nil)
		}

	case evtTypingStart:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		h.broadcast(p.TripID, evtTypingStarted, presencePayload{UserID: c.userID, Username: c.username}, c)

	case evtTypingStop:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		h.broadcast(p.TripID, evtTypingStopped, presencePayload{UserID: c.userID, Username: c.username}, c)

	case evtMarkRead:
		var p markReadPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		h.broadcast(p.TripID, evtMessageRead, receiptPayload{TripID: p.TripID, UserID: c.userID, MessageID: p.MessageID}, c)

	default:
		slog.Debug("Ignoring unknown event", "event", f.Event, "userID", c.userID)
	}
}

// joinRoom moves the client into a trip room. A client is in at most one
// room; joining a new one implicitly leaves the old.
func (h *Hub) joinRoom(c *client, tripID string) {
	if c.room == tripID {
		return
	}
	h.leaveRoom(c)

	members := h.rooms[tripID]
	if members == nil {
		members = make(map[*client]bool)
		h.rooms[tripID] = members
	}
	members[c] = true
	c.room = tripID
	slog.Info("Client joined trip", "userID", c.userID, "tripID", tripID)

	h.broadcast(tripID, evtUserOnline, presencePayload{UserID: c.userID, Username: c.username}, c)
	h.sendTo(c, evtOnlineUsers, snapshotPayload{Users: h.roster(tripID)})
}

func (h *Hub) leaveRoom(c *client) {
	if c.room == "" {
		return
	}
	tripID := c.room
	c.room = ""
	if members, ok := h.rooms[tripID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, tripID)
		}
	}
	h.broadcast(tripID, evtUserOffline, presencePayload{UserID: c.userID, Username: c.username}, nil)
}

// roster builds the online snapshot for a room.
func (h *Hub) roster(tripID string) []domain.OnlineUser {
	now := time.Now().UTC()
	users := make([]domain.OnlineUser, 0, len(h.rooms[tripID]))
	for member := range h.rooms[tripID] {
		users = append(users, domain.OnlineUser{
			UserID:   member.userID,
			Username: member.username,
			Online:   true,
			LastSeen: now,
		})
	}
	return users
}

// broadcast fans an event out to every room member except skip. Members
// with a full send queue are dropped, matching the usual slow-consumer
// policy for WebSocket hubs.
func (h *Hub) broadcast(tripID, event string, data any, skip *client) {
	members := h.rooms[tripID]
	if len(members) == 0 {
		return
	}
	raw, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		slog.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	for member := range members {
		if member == skip {
			continue
		}
		if !member.enqueue(raw) {
			slog.Warn("Dropping slow client", "userID", member.userID)
			delete(members, member)
			delete(h.clients, member)
			member.room = ""
			close(member.send)
		}
	}
}

func (h *Hub) sendTo(c *client, event string, data any) {
	raw, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		slog.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	if !c.enqueue(raw) {
		slog.Warn("Client send queue full", "userID", c.userID)
	}
}

// agentReply produces the canned assistant response for messages addressed
// to the agent. It exists so the client's dual-message send flow has
// something to exercise against a local server. It only touches the store
// and is safe to call from any goroutine.
func (h *Hub) agentReply(msg domain.Message) (domain.Message, bool) {
	if !h.agentReplies || !strings.HasPrefix(msg.Content, "@agent") {
		return domain.Message{}, false
	}
	content := "I'm on it! Let me look into: " + strings.TrimSpace(strings.TrimPrefix(msg.Content, "@agent"))
	reply := h.store.NewMessage(msg.TripID, "agent", "Trip Agent", domain.SenderAgent, content, nil)
	return reply, true
}
