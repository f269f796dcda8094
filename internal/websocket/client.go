package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tullo/moddash/internal/auth"
	"github.com/tullo/moddash/internal/models"
	"github.com/tullo/moddash/internal/push"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10240 // 10KB

	// Inbound messages per second and burst per connection
	inboundRate  = 5
	inboundBurst = 20
)

// Client is one dashboard browser. It follows a single guild room at a time
// and relays that room's events.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	stopOnce    sync.Once
	userID      uuid.UUID
	claims      *auth.Claims
	rooms       *push.Manager
	limiter     *rate.Limiter
	connectedAt time.Time
	log         *slog.Logger

	mu  sync.Mutex
	sub *push.Subscription
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, claims *auth.Claims, rooms *push.Manager, log *slog.Logger) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		userID:      claims.UserID,
		claims:      claims,
		rooms:       rooms,
		limiter:     rate.NewLimiter(inboundRate, inboundBurst),
		connectedAt: time.Now(),
		log:         log.With("user_id", claims.UserID),
	}
}

// stop ends the write pump and leaves the followed room.
func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.unwatch()
	})
}

// enqueue queues data without blocking; a full buffer drops the frame.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping frame")
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError("rate_limited")
			continue
		}
		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming WebSocket messages
func (c *Client) handleMessage(data []byte) {
	var wsMsg models.WSMessage
	if err := json.Unmarshal(data, &wsMsg); err != nil {
		c.sendError("Invalid message format")
		return
	}

	switch wsMsg.Event {
	case models.EventJoinGuildRoom:
		var req models.WSRoomPayload
		if err := json.Unmarshal(wsMsg.Payload, &req); err != nil || req.GuildID == "" {
			c.sendError("Invalid room payload")
			return
		}
		c.watch(req.GuildID)

	case models.EventLeaveGuildRoom:
		if guildID := c.unwatch(); guildID != "" {
			c.emit(models.EventLeftRoom, models.WSRoomPayload{GuildID: guildID, Room: models.RoomName(guildID)})
		}

	default:
		c.sendError("Unknown event type")
	}
}

// watch follows guildID's room, leaving the previous one.
func (c *Client) watch(guildID string) {
	if c.rooms == nil {
		c.sendError("Live updates unavailable")
		return
	}
	if !c.claims.AllowsGuild(guildID) {
		c.sendError("Access denied")
		return
	}

	c.unwatch()
	sub, err := c.rooms.Subscribe(context.Background(), guildID, c.forward)
	if err != nil {
		c.sendError("Failed to join room")
		return
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		sub.Close()
		return
	default:
	}
	c.sub = sub
	c.mu.Unlock()

	c.emit(models.EventJoinedRoom, models.WSRoomPayload{GuildID: guildID, Room: models.RoomName(guildID)})
}

// unwatch leaves the followed room and returns its guild, if any.
func (c *Client) unwatch() string {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return ""
	}
	sub.Close()
	return sub.GuildID()
}

// forward relays a room event to the browser unchanged.
func (c *Client) forward(evt models.PushEvent) {
	data, err := json.Marshal(models.WSMessage{Event: evt.Type, Payload: evt.Payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(models.WSMessage{Event: event, Payload: raw})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// sendError sends an error message to the client
func (c *Client) sendError(message string) {
	c.emit(models.EventError, models.WSErrorPayload{Message: message})
}
