package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/tripchat/internal/domain"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Load() (string, error) { return s.token, s.err }

func TestAPI_Messages(t *testing.T) {
	history := []domain.Message{
		{ID: "m1", TripID: "trip-1", UserID: "u1", Content: "first", Sender: domain.SenderHuman, CreatedAt: time.Now().UTC()},
		{ID: "m2", TripID: "trip-1", UserID: "u2", Content: "second", Sender: domain.SenderHuman, CreatedAt: time.Now().UTC()},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/trips/trip-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(history)
	}))
	defer server.Close()

	api := NewAPI(server.URL, staticTokens{token: "tok"})
	messages, err := api.Messages(context.Background(), "trip-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
}

func TestAPI_MessagesWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]domain.Message{})
	}))
	defer server.Close()

	api := NewAPI(server.URL, staticTokens{err: domain.ErrNoCredentials})
	messages, err := api.Messages(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAPI_SendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/trips/trip-9/messages", r.URL.Path)

		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Content)

		json.NewEncoder(w).Encode(domain.SendResult{
			UserMessage: domain.Message{ID: "m10", TripID: "trip-9", Content: body.Content},
			AgentResponse: &domain.Message{
				ID: "m11", TripID: "trip-9", Sender: domain.SenderAgent, Content: "noted",
			},
		})
	}))
	defer server.Close()

	api := NewAPI(server.URL, staticTokens{token: "tok"})
	result, err := api.SendMessage(context.Background(), "trip-9", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m10", result.UserMessage.ID)
	require.NotNil(t, result.AgentResponse)
	assert.Equal(t, domain.SenderAgent, result.AgentResponse.Sender)
}

func TestAPI_ErrorBodyExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a trip member"})
	}))
	defer server.Close()

	api := NewAPI(server.URL, staticTokens{token: "tok"})
	_, err := api.Messages(context.Background(), "trip-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a trip member")
}

func TestAPI_GenericErrorFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	api := NewAPI(server.URL, staticTokens{token: "tok"})
	_, err := api.Messages(context.Background(), "trip-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestAPI_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	api := NewAPI(server.URL, staticTokens{token: "tok"})
	_, err := api.Messages(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
