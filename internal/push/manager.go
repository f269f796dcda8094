// Package push keeps one process-wide connection to the moderation service's
// push channel and fans its events out to per-guild room subscribers.
package push

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tullo/moddash/internal/models"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second

	// Time allowed for a leave frame issued from Subscription.Close
	leaveTimeout = 5 * time.Second
)

// ErrNotConnected is returned by transports asked to send while no
// connection is open. Rooms are re-joined on the next connect.
var ErrNotConnected = errors.New("push transport not connected")

// Transport is one kind of push connection.
type Transport interface {
	// Connect opens the connection.
	Connect(ctx context.Context) error
	// Join asks the server to route a guild's events to this connection.
	Join(ctx context.Context, guildID string) error
	// Leave undoes Join.
	Leave(ctx context.Context, guildID string) error
	// Receive calls deliver for every event, in arrival order, until the
	// connection drops or ctx is done.
	Receive(ctx context.Context, deliver func(models.PushEvent)) error
	// Close tears the connection down.
	Close() error
}

// Publisher receives a copy of every routed event.
type Publisher interface {
	PublishGuildEvent(ctx context.Context, guildID string, msg models.WSMessage) error
}

// Handler consumes events for one room.
type Handler func(models.PushEvent)

// Manager multiplexes room subscriptions over a single Transport.
type Manager struct {
	transport Transport
	relay     Publisher
	clock     clockwork.Clock
	log       *slog.Logger

	mu        sync.RWMutex
	rooms     map[string]map[uuid.UUID]*Subscription
	connected bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used for reconnect backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithRelay republishes every received event, e.g. to Redis so that other
// dashboard replicas can subscribe without their own upstream connection.
func WithRelay(p Publisher) Option {
	return func(m *Manager) { m.relay = p }
}

// NewManager creates a Manager. Call Run to connect.
func NewManager(t Transport, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		clock:     clockwork.NewRealClock(),
		log:       log.With("component", "push"),
		rooms:     make(map[string]map[uuid.UUID]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscription is one handler's membership in a guild room.
type Subscription struct {
	id      uuid.UUID
	guildID string
	handler Handler
	manager *Manager
	closed  atomic.Bool
}

// GuildID returns the subscribed guild.
func (s *Subscription) GuildID() string {
	return s.guildID
}

// Close leaves the room. Events dispatched after Close are not delivered to
// the handler. Close is idempotent.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.manager.unsubscribe(s)
}

// Subscribe adds handler to the guild's room, joining it on the connection
// when it is the room's first subscriber. A failed join is logged and
// retried on the next reconnect; the subscription stays valid.
func (m *Manager) Subscribe(ctx context.Context, guildID string, handler Handler) (*Subscription, error) {
	if guildID == "" {
		return nil, errors.New("subscribe: guild id required")
	}

	sub := &Subscription{id: uuid.New(), guildID: guildID, handler: handler, manager: m}

	m.mu.Lock()
	room, ok := m.rooms[guildID]
	if !ok {
		room = make(map[uuid.UUID]*Subscription)
		m.rooms[guildID] = room
	}
	room[sub.id] = sub
	first := len(room) == 1
	connected := m.connected
	m.mu.Unlock()

	if first && connected {
		if err := m.transport.Join(ctx, guildID); err != nil {
			m.log.Warn("failed to join guild room", "guild_id", guildID, "error", err)
		}
	}
	m.log.Debug("subscribed", "guild_id", guildID, "subscription", sub.id)
	return sub, nil
}

func (m *Manager) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	room := m.rooms[sub.guildID]
	delete(room, sub.id)
	last := room != nil && len(room) == 0
	if last {
		delete(m.rooms, sub.guildID)
	}
	connected := m.connected
	m.mu.Unlock()

	if last && connected {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := m.transport.Leave(ctx, sub.guildID); err != nil {
			m.log.Warn("failed to leave guild room", "guild_id", sub.guildID, "error", err)
		}
	}
	m.log.Debug("unsubscribed", "guild_id", sub.guildID, "subscription", sub.id)
}

// Rooms returns the guilds that currently have subscribers.
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether a connection is currently open.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Run keeps the connection open until ctx is done, reconnecting with
// exponential backoff and re-joining every active room after each connect.
func (m *Manager) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		established, err := m.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			backoff = minBackoff
		}
		m.log.Warn("push connection lost", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (m *Manager) session(ctx context.Context) (bool, error) {
	if err := m.transport.Connect(ctx); err != nil {
		return false, err
	}
	rooms := m.connect()
	defer m.setConnected(false)

	for _, guildID := range rooms {
		if err := m.transport.Join(ctx, guildID); err != nil {
			m.log.Warn("failed to rejoin guild room", "guild_id", guildID, "error", err)
		}
	}
	m.log.Info("push connection established", "rooms", len(rooms))

	return true, m.transport.Receive(ctx, m.dispatch)
}

// connect marks the connection open and returns the rooms to rejoin. Rooms
// subscribed after this point are joined by Subscribe itself.
func (m *Manager) connect() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out
}

func (m *Manager) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// dispatch runs on the transport's receive goroutine, so handlers of one
// room see events in arrival order.
func (m *Manager) dispatch(evt models.PushEvent) {
	if evt.GuildID == "" {
		m.log.Debug("dropping push event without guild", "event", evt.Type)
		return
	}

	if m.relay != nil {
		msg := models.WSMessage{Event: evt.Type, Payload: evt.Payload}
		if err := m.relay.PublishGuildEvent(context.Background(), evt.GuildID, msg); err != nil {
			m.log.Warn("failed to relay push event", "event", evt.Type, "guild_id", evt.GuildID, "error", err)
		}
	}

	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.rooms[evt.GuildID]))
	for _, sub := range m.rooms[evt.GuildID] {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		sub.handler(evt)
	}
}

// Close shuts the transport down.
func (m *Manager) Close() error {
	return m.transport.Close()
}
