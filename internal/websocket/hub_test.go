package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tullo/moddash/internal/auth"
	"github.com/tullo/moddash/internal/logging"
	"github.com/tullo/moddash/internal/models"
	"github.com/tullo/moddash/internal/push"
)

func TestHubSendToUser(t *testing.T) {
	h := NewHub(logging.Discard())

	id1 := uuid.New()
	id2 := uuid.New()

	// Use actual Client struct but only use the send channel for assertion
	c1 := &Client{userID: id1, send: make(chan []byte, 4), done: make(chan struct{}), log: logging.Discard()}
	c2 := &Client{userID: id2, send: make(chan []byte, 4), done: make(chan struct{}), log: logging.Discard()}
	h.clients[id1] = c1
	h.clients[id2] = c2

	require.NoError(t, h.SendToUser(id1, map[string]string{"hello": "world"}))

	select {
	case b := <-c1.send:
		assert.JSONEq(t, `{"hello":"world"}`, string(b))
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for message to user 1")
	}
	assert.Empty(t, c2.send)

	assert.ElementsMatch(t, []uuid.UUID{id1, id2}, h.GetOnlineUsers())
	assert.True(t, h.IsUserOnline(id2))
	assert.False(t, h.IsUserOnline(uuid.New()))
}

func TestHubReplacesConnectionForSameUser(t *testing.T) {
	h := NewHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	id := uuid.New()
	first := &Client{userID: id, send: make(chan []byte, 1), done: make(chan struct{}), log: logging.Discard()}
	second := &Client{userID: id, send: make(chan []byte, 1), done: make(chan struct{}), log: logging.Discard()}

	h.register <- first
	h.register <- second
	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("first connection was not stopped")
	}

	// a late unregister from the replaced connection keeps the new one
	h.unregister <- first
	require.Eventually(t, func() bool { return h.IsUserOnline(id) }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-second.done:
	case <-time.After(time.Second):
		t.Fatal("hub shutdown did not stop clients")
	}
}

type liveServer struct {
	url   string
	token string
	lb    *push.LoopbackTransport
	hub   *Hub
}

func startLive(t *testing.T, guilds ...string) *liveServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lb := push.NewLoopbackTransport()
	rooms := push.NewManager(lb, logging.Discard())
	go func() { _ = rooms.Run(ctx) }()
	require.Eventually(t, rooms.Connected, time.Second, time.Millisecond)

	hub := NewHub(logging.Discard())
	go hub.Run(ctx)

	jwtService := auth.NewJWTService("secret", 1)
	token, err := jwtService.GenerateToken(uuid.New(), guilds...)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/ws", NewHandler(hub, jwtService, rooms, nil, logging.Discard()).HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &liveServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", token: token, lb: lb, hub: hub}
}

func (s *liveServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+s.token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.WSMessage{Event: event, Payload: raw}))
}

func next(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLive_RelaysRoomEvents(t *testing.T) {
	s := startLive(t, "42")
	conn := s.dial(t)

	send(t, conn, models.EventJoinGuildRoom, models.WSRoomPayload{GuildID: "43"})
	msg := next(t, conn)
	assert.Equal(t, models.EventError, msg.Event)
	assert.JSONEq(t, `{"message":"Access denied"}`, string(msg.Payload))

	send(t, conn, models.EventJoinGuildRoom, models.WSRoomPayload{GuildID: "42"})
	msg = next(t, conn)
	assert.Equal(t, models.EventJoinedRoom, msg.Event)
	assert.JSONEq(t, `{"guild_id":"42","room":"guild_42"}`, string(msg.Payload))
	require.Eventually(t, func() bool { return s.lb.Joined("42") }, time.Second, time.Millisecond)

	s.lb.Publish(models.PushEvent{Type: models.EventFilterActionLogged, GuildID: "42", Payload: json.RawMessage(`{"id":"v1"}`)})
	msg = next(t, conn)
	assert.Equal(t, models.EventFilterActionLogged, msg.Event)
	assert.JSONEq(t, `{"id":"v1"}`, string(msg.Payload))

	send(t, conn, models.EventLeaveGuildRoom, struct{}{})
	msg = next(t, conn)
	assert.Equal(t, models.EventLeftRoom, msg.Event)
	assert.False(t, s.lb.Joined("42"))

	send(t, conn, "dance", struct{}{})
	assert.Equal(t, models.EventError, next(t, conn).Event)
}

func TestLive_RejectsMissingOrBadToken(t *testing.T) {
	s := startLive(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(s.url+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
