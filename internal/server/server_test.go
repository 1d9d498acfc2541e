package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/tripchat/internal/domain"
)

func newTestServer(t *testing.T, agentReplies bool) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(Config{Addr: "127.0.0.1:0", AgentReplies: agentReplies})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Hub.Run(ctx)

	ts := httptest.NewServer(s.E)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *gws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := gws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *gws.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(outFrame{Event: event, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gws.TextMessage, raw))
}

// awaitFrame reads frames until one matches the wanted event, skipping
// unrelated traffic such as presence noise.
func awaitFrame(t *testing.T, conn *gws.Conn, event string) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", event)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			return f
		}
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MessagesRequireAuth(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/trips/trip-1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_PostAndListMessages(t *testing.T) {
	_, ts := newTestServer(t, false)

	body := bytes.NewBufferString(`{"content":"hello from rest"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/trips/trip-1/messages", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice:Alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result domain.SendResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.UserMessage.ID)
	assert.Equal(t, "alice", result.UserMessage.UserID)
	assert.Equal(t, "Alice", result.UserMessage.Username)
	assert.Nil(t, result.AgentResponse)

	listReq, err := http.NewRequest(http.MethodGet, ts.URL+"/trips/trip-1/messages", nil)
	require.NoError(t, err)
	listReq.Header.Set("Authorization", "Bearer alice:Alice")
	listResp, err := http.DefaultClient.Do(listReq)
	require.NoError(t, err)
	defer listResp.Body.Close()

	var msgs []domain.Message
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello from rest", msgs[0].Content)
}

func TestServer_PostRejectsEmptyContent(t *testing.T) {
	_, ts := newTestServer(t, false)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/trips/trip-1/messages", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_AgentRepliesOverREST(t *testing.T) {
	_, ts := newTestServer(t, true)

	body := bytes.NewBufferString(`{"content":"@agent book a hotel"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/trips/trip-1/messages", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result domain.SendResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotNil(t, result.AgentResponse)
	assert.Equal(t, domain.SenderAgent, result.AgentResponse.Sender)
	assert.Contains(t, result.AgentResponse.Content, "book a hotel")
}

func TestServer_JoinDeliversSnapshotAndPresence(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialWS(t, ts, "alice:Alice")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})

	snap := awaitFrame(t, alice, evtOnlineUsers)
	var sp snapshotPayload
	require.NoError(t, json.Unmarshal(snap.Data, &sp))
	require.Len(t, sp.Users, 1)
	assert.Equal(t, "alice", sp.Users[0].UserID)

	bob := dialWS(t, ts, "bob:Bob")
	sendFrame(t, bob, evtJoinTrip, roomPayload{TripID: "trip-1"})

	online := awaitFrame(t, alice, evtUserOnline)
	var pp presencePayload
	require.NoError(t, json.Unmarshal(online.Data, &pp))
	assert.Equal(t, "bob", pp.UserID)
	assert.Equal(t, "Bob", pp.Username)
}

func TestServer_MessageFanOutIncludesSender(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialWS(t, ts, "alice:Alice")
	bob := dialWS(t, ts, "bob:Bob")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})
	sendFrame(t, bob, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, alice, evtOnlineUsers)
	awaitFrame(t, bob, evtOnlineUsers)

	sendFrame(t, alice, evtSendMessage, sendPayload{TripID: "trip-1", Content: "anyone hungry?", CorrelationID: "corr-1"})

	for _, conn := range []*gws.Conn{alice, bob} {
		f := awaitFrame(t, conn, evtNewMessage)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		assert.Equal(t, "anyone hungry?", msg.Content)
		assert.Equal(t, "alice", msg.UserID)
		assert.Equal(t, "corr-1", msg.Metadata["correlation_id"])
	}
}

func TestServer_TypingSkipsSender(t *testing.T) {
	_, ts := newTestServer(t, false)

	// Join sequentially and drain alice's presence frames so her stream is
	// empty before the typing exchange.
	alice := dialWS(t, ts, "alice:Alice")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, alice, evtOnlineUsers)

	bob := dialWS(t, ts, "bob:Bob")
	sendFrame(t, bob, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, bob, evtOnlineUsers)
	awaitFrame(t, alice, evtUserOnline)

	sendFrame(t, alice, evtTypingStart, roomPayload{TripID: "trip-1"})

	f := awaitFrame(t, bob, evtTypingStarted)
	var pp presencePayload
	require.NoError(t, json.Unmarshal(f.Data, &pp))
	assert.Equal(t, "alice", pp.UserID)

	// The sender must not see their own typing event. The very next frame
	// alice receives is the follow-up message, not typing_started.
	sendFrame(t, bob, evtSendMessage, sendPayload{TripID: "trip-1", Content: "done"})
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := alice.ReadMessage()
	require.NoError(t, err)
	var next frame
	require.NoError(t, json.Unmarshal(raw, &next))
	assert.Equal(t, evtNewMessage, next.Event)
}

func TestServer_LeaveBroadcastsOffline(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialWS(t, ts, "alice:Alice")
	bob := dialWS(t, ts, "bob:Bob")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})
	sendFrame(t, bob, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, alice, evtOnlineUsers)
	awaitFrame(t, bob, evtOnlineUsers)

	sendFrame(t, bob, evtLeaveTrip, roomPayload{TripID: "trip-1"})

	f := awaitFrame(t, alice, evtUserOffline)
	var pp presencePayload
	require.NoError(t, json.Unmarshal(f.Data, &pp))
	assert.Equal(t, "bob", pp.UserID)
}

func TestServer_DisconnectBroadcastsOffline(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialWS(t, ts, "alice:Alice")
	bob := dialWS(t, ts, "bob:Bob")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})
	sendFrame(t, bob, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, alice, evtOnlineUsers)
	awaitFrame(t, bob, evtOnlineUsers)

	require.NoError(t, bob.Close())

	f := awaitFrame(t, alice, evtUserOffline)
	var pp presencePayload
	require.NoError(t, json.Unmarshal(f.Data, &pp))
	assert.Equal(t, "bob", pp.UserID)
}

func TestServer_MarkReadRelayedToOthers(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialWS(t, ts, "alice:Alice")
	bob := dialWS(t, ts, "bob:Bob")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})
	sendFrame(t, bob, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, alice, evtOnlineUsers)
	awaitFrame(t, bob, evtOnlineUsers)

	sendFrame(t, alice, evtMarkRead, markReadPayload{TripID: "trip-1", MessageID: "msg-9"})

	f := awaitFrame(t, bob, evtMessageRead)
	var rp receiptPayload
	require.NoError(t, json.Unmarshal(f.Data, &rp))
	assert.Equal(t, "alice", rp.UserID)
	assert.Equal(t, "msg-9", rp.MessageID)
}

func TestServer_WSRequiresAuth(t *testing.T) {
	_, ts := newTestServer(t, false)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RESTMessageBroadcastToRoom(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialWS(t, ts, "alice:Alice")
	sendFrame(t, alice, evtJoinTrip, roomPayload{TripID: "trip-1"})
	awaitFrame(t, alice, evtOnlineUsers)

	body := bytes.NewBufferString(`{"content":"posted over rest"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/trips/trip-1/messages", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer bob:Bob")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	f := awaitFrame(t, alice, evtNewMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "posted over rest", msg.Content)
	assert.Equal(t, "bob", msg.UserID)
}
