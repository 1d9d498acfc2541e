package domain

import "time"

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderHuman  SenderKind = "human"
	SenderAgent  SenderKind = "agent"
	SenderSystem SenderKind = "system"
)

// Message is a single chat message within a trip conversation.
// Messages are unique by ID within a trip; the server assigns IDs.
type Message struct {
	ID        string            `json:"id"`
	TripID    string            `json:"trip_id"`
	UserID    string            `json:"user_id"`
	Username  string            `json:"username"`
	Sender    SenderKind        `json:"sender"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SendResult is the response of the REST send endpoint. The backend persists
// the user's message and may attach an immediate agent reply.
type SendResult struct {
	UserMessage   Message  `json:"userMessage"`
	AgentResponse *Message `json:"agentResponse,omitempty"`
}

// TypingUser is a user currently typing in the active trip conversation.
type TypingUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// OnlineUser tracks a user's presence within the active trip conversation.
// Entries flip to offline rather than being removed, so the last-known name
// and last-seen time survive for the session.
type OnlineUser struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}
