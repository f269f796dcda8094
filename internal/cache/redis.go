package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tullo/moddash/internal/models"
)

// roomPrefix is prepended to models.RoomName so the relay's channels do not
// collide with other users of the same Redis database.
const roomPrefix = "moddash:"

type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Guild rooms

// RoomChannel returns the pub/sub channel carrying a guild's push events.
func RoomChannel(guildID string) string {
	return roomPrefix + models.RoomName(guildID)
}

// GuildFromChannel is the inverse of RoomChannel.
func GuildFromChannel(channel string) (string, bool) {
	room, ok := strings.CutPrefix(channel, roomPrefix)
	if !ok {
		return "", false
	}
	return strings.CutPrefix(room, "guild_")
}

// PublishGuildEvent publishes a push frame to the guild's room
func (r *RedisClient) PublishGuildEvent(ctx context.Context, guildID string, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, RoomChannel(guildID), data).Err()
}

// SubscribeToGuilds opens a subscription for the given guild rooms. It may be
// called with no guilds and extended later through the returned PubSub.
func (r *RedisClient) SubscribeToGuilds(ctx context.Context, guildIDs ...string) *redis.PubSub {
	channels := make([]string, 0, len(guildIDs))
	for _, id := range guildIDs {
		channels = append(channels, RoomChannel(id))
	}
	return r.client.Subscribe(ctx, channels...)
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// AllowAction implements a Redis-backed token-bucket limiter per key (user+action).
// Returns true if the action is allowed, false if rate-limited.
func (r *RedisClient) AllowAction(ctx context.Context, userID uuid.UUID, action string, rate int, burst int) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", action, userID.String())
	// Lua script: manage tokens and last timestamp
	script := `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local vals = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(vals[1])
local last = tonumber(vals[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end
local delta = math.max(0, now - last)
local new_tokens = math.min(burst, tokens + (delta * rate / 1000))
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
	redis.call('PEXPIRE', key, 60000)
	return 1
else
	redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
	redis.call('PEXPIRE', key, 60000)
	return 0
end
`

	now := time.Now().UnixMilli()
	res, err := r.client.Eval(ctx, script, []string{key}, rate, burst, now).Result()
	if err != nil {
		return false, err
	}
	// Eval returns int64 (1 or 0)
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}
