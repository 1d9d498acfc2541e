package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voyago/tripchat/internal/domain"
)

func TestFormatMessage(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	msg := domain.Message{
		Username:  "Alice",
		Sender:    domain.SenderHuman,
		Content:   "see you at the gate",
		CreatedAt: created,
	}
	assert.Contains(t, formatMessage(msg), "Alice: see you at the gate")

	sys := domain.Message{
		Username:  "system",
		Sender:    domain.SenderSystem,
		Content:   "Bob joined the trip",
		CreatedAt: created,
	}
	assert.Contains(t, formatMessage(sys), "*: Bob joined the trip")
}
