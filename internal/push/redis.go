package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tullo/moddash/internal/cache"
	"github.com/tullo/moddash/internal/models"
)

// RedisTransport consumes guild rooms relayed into Redis pub/sub channels.
type RedisTransport struct {
	redis *cache.RedisClient
	log   *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisTransport creates a transport over an existing Redis client.
func NewRedisTransport(rc *cache.RedisClient, log *slog.Logger) *RedisTransport {
	return &RedisTransport{redis: rc, log: log.With("component", "push.redis")}
}

// Connect opens an empty subscription; rooms are added with Join.
func (t *RedisTransport) Connect(ctx context.Context) error {
	ps := t.redis.SubscribeToGuilds(ctx)

	t.mu.Lock()
	if t.pubsub != nil {
		t.pubsub.Close()
	}
	t.pubsub = ps
	t.mu.Unlock()
	return nil
}

func (t *RedisTransport) current() (*redis.PubSub, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub == nil {
		return nil, ErrNotConnected
	}
	return t.pubsub, nil
}

// Join subscribes to the guild's channel.
func (t *RedisTransport) Join(ctx context.Context, guildID string) error {
	ps, err := t.current()
	if err != nil {
		return err
	}
	return ps.Subscribe(ctx, cache.RoomChannel(guildID))
}

// Leave unsubscribes from the guild's channel.
func (t *RedisTransport) Leave(ctx context.Context, guildID string) error {
	ps, err := t.current()
	if err != nil {
		return err
	}
	return ps.Unsubscribe(ctx, cache.RoomChannel(guildID))
}

// Receive delivers relayed frames until the subscription closes or ctx is
// done.
func (t *RedisTransport) Receive(ctx context.Context, deliver func(models.PushEvent)) error {
	ps, err := t.current()
	if err != nil {
		return err
	}
	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			evt, err := decodeRelayed(msg.Channel, msg.Payload)
			if err != nil {
				t.log.Warn("dropping malformed relayed frame", "channel", msg.Channel, "error", err)
				continue
			}
			deliver(evt)
		}
	}
}

// decodeRelayed decodes a frame and fills the guild from the channel name
// when the payload does not carry one.
func decodeRelayed(channel, payload string) (models.PushEvent, error) {
	evt, err := decodeFrame([]byte(payload))
	if err != nil {
		return evt, err
	}
	if evt.GuildID == "" {
		evt.GuildID, _ = cache.GuildFromChannel(channel)
	}
	return evt, nil
}

// Close closes the subscription, which ends Receive.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	ps := t.pubsub
	t.pubsub = nil
	t.mu.Unlock()
	if ps == nil {
		return nil
	}
	return ps.Close()
}
