package push

import (
	"context"
	"errors"
	"sync"

	"github.com/tullo/moddash/internal/models"
)

var errLoopbackClosed = errors.New("loopback transport closed")

// LoopbackTransport is an in-process transport: events handed to Publish are
// delivered as if they had arrived from the server. It backs
// PUSH_TRANSPORT=none and tests.
type LoopbackTransport struct {
	events chan models.PushEvent

	mu     sync.Mutex
	joined map[string]int
	closed chan struct{}
	once   sync.Once
}

// NewLoopbackTransport creates a loopback transport with a buffered queue.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		events: make(chan models.PushEvent, sendBuffer),
		joined: make(map[string]int),
		closed: make(chan struct{}),
	}
}

func (t *LoopbackTransport) Connect(context.Context) error {
	select {
	case <-t.closed:
		return errLoopbackClosed
	default:
		return nil
	}
}

func (t *LoopbackTransport) Join(_ context.Context, guildID string) error {
	t.mu.Lock()
	t.joined[guildID]++
	t.mu.Unlock()
	return nil
}

func (t *LoopbackTransport) Leave(_ context.Context, guildID string) error {
	t.mu.Lock()
	t.joined[guildID]--
	if t.joined[guildID] <= 0 {
		delete(t.joined, guildID)
	}
	t.mu.Unlock()
	return nil
}

// Joined reports whether the guild's room is currently joined.
func (t *LoopbackTransport) Joined(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined[guildID] > 0
}

// Publish queues evt for delivery. It blocks while the queue is full.
func (t *LoopbackTransport) Publish(evt models.PushEvent) {
	select {
	case t.events <- evt:
	case <-t.closed:
	}
}

func (t *LoopbackTransport) Receive(ctx context.Context, deliver func(models.PushEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return errLoopbackClosed
		case evt := <-t.events:
			deliver(evt)
		}
	}
}

func (t *LoopbackTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
