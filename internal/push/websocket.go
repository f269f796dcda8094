package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tullo/moddash/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

// WebsocketTransport speaks JSON frames ({event, payload}) over a websocket.
type WebsocketTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewWebsocketTransport creates a transport for url. token, when set, is sent
// as a bearer token on the upgrade request.
func NewWebsocketTransport(url, token string, log *slog.Logger) *WebsocketTransport {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebsocketTransport{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeWait,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log: log.With("component", "push.websocket"),
	}
}

// Connect dials the push endpoint and starts the write pump.
func (t *WebsocketTransport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	t.mu.Lock()
	if t.conn != nil {
		close(t.done)
		t.conn.Close()
	}
	t.conn = conn
	t.send = make(chan []byte, sendBuffer)
	t.done = make(chan struct{})
	go t.writePump(conn, t.send, t.done)
	t.mu.Unlock()

	t.log.Debug("connected", "url", t.url)
	return nil
}

// Join emits join_guild_room.
func (t *WebsocketTransport) Join(_ context.Context, guildID string) error {
	return t.enqueue(models.EventJoinGuildRoom, guildID)
}

// Leave emits leave_guild_room.
func (t *WebsocketTransport) Leave(_ context.Context, guildID string) error {
	return t.enqueue(models.EventLeaveGuildRoom, guildID)
}

func (t *WebsocketTransport) enqueue(event, guildID string) error {
	data, err := encodeRoomFrame(event, guildID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	select {
	case t.send <- data:
		return nil
	default:
		return fmt.Errorf("%s: send buffer full", event)
	}
}

// Receive is the read pump. It returns when the connection fails, the peer
// closes it, or ctx is done.
func (t *WebsocketTransport) Receive(ctx context.Context, deliver func(models.PushEvent)) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer t.release(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("push channel read failed", "error", err)
			}
			return fmt.Errorf("read push frame: %w", err)
		}

		evt, err := decodeFrame(message)
		if err != nil {
			t.log.Warn("dropping malformed push frame", "error", err)
			continue
		}
		deliver(evt)
	}
}

// release forgets conn if it is still the current connection and stops its
// write pump.
func (t *WebsocketTransport) release(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		close(t.done)
	}
	t.mu.Unlock()
	conn.Close()
}

// writePump owns all data writes on conn.
func (t *WebsocketTransport) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				t.log.Warn("push channel write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close closes the current connection, which ends Receive.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
