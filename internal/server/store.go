package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voyago/tripchat/internal/domain"
)

// MessageStore is the in-memory message history backing the development
// server. Messages are kept per trip in append order.
type MessageStore struct {
	mu     sync.RWMutex
	byTrip map[string][]domain.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byTrip: make(map[string][]domain.Message)}
}

// NewMessage builds a persisted message with a fresh server-side ID.
func (s *MessageStore) NewMessage(tripID, userID, username string, sender domain.SenderKind, content string, meta map[string]string) domain.Message {
	msg := domain.Message{
		ID:        uuid.NewString(),
		TripID:    tripID,
		UserID:    userID,
		Username:  username,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Metadata:  meta,
	}
	s.mu.Lock()
	s.byTrip[tripID] = append(s.byTrip[tripID], msg)
	s.mu.Unlock()
	return msg
}

// List returns a copy of the trip's history in chronological order.
func (s *MessageStore) List(tripID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.byTrip[tripID]))
	copy(out, s.byTrip[tripID])
	return out
}
