// Package client provides the REST half of the chat backend boundary:
// authoritative message history and the send fallback used when the socket
// is down.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voyago/tripchat/internal/domain"
)

// TokenSource supplies the bearer credential for outgoing requests.
// auth.TokenStore satisfies it.
type TokenSource interface {
	Load() (string, error)
}

// API is an HTTP client for the trip-chat REST endpoints.
type API struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewAPI creates a REST client for the given base URL.
func NewAPI(baseURL string, tokens TokenSource) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// errorResponse is the backend's standard error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Messages fetches the full, server-ordered message history of a trip.
func (a *API) Messages(ctx context.Context, tripID string) ([]domain.Message, error) {
	var messages []domain.Message
	endpoint := fmt.Sprintf("%s/trips/%s/messages", a.baseURL, url.PathEscape(tripID))
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage persists a message via REST and returns the stored message
// along with any immediate agent reply. This is the fallback path used when
// the socket is disconnected.
func (a *API) SendMessage(ctx context.Context, tripID, content string) (domain.SendResult, error) {
	body := struct {
		Content string `json:"content"`
	}{Content: content}

	var result domain.SendResult
	endpoint := fmt.Sprintf("%s/trips/%s/messages", a.baseURL, url.PathEscape(tripID))
	if err := a.do(ctx, http.MethodPost, endpoint, body, &result); err != nil {
		return domain.SendResult{}, err
	}
	return result, nil
}

// do performs a request, attaching the bearer token when one is stored, and
// decodes the JSON response into out. Non-2xx responses become errors with
// the message extracted from the body when the backend provided one.
func (a *API) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, err := a.tokens.Load(); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return a.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (a *API) errorFromResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}

	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		if body.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Error)
		}
		if body.Message != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Message)
		}
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
