package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:onlineUsers"

func userConnsKey(userID string) string { return "presence:user:" + userID + ":conns" }
func lastSeenKey(userID string) string  { return "presence:lastSeen:" + userID }

// RedisTracker keeps presence in Redis so multiple broadcast servers
// can, in principle, share one view. All mutations are single-key set
// operations; no cross-key atomicity is needed because no operation
// ever touches two users' records.
type RedisTracker struct {
	client      *redis.Client
	lastSeenTTL time.Duration
}

func NewRedisTracker(client *redis.Client, lastSeenTTL time.Duration) *RedisTracker {
	return &RedisTracker{client: client, lastSeenTTL: lastSeenTTL}
}

var _ Tracker = (*RedisTracker)(nil)

func (t *RedisTracker) MarkOnline(ctx context.Context, userID, connID string) (Update, error) {
	if err := t.client.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		return Update{}, fmt.Errorf("presence: mark online: %w", err)
	}
	if err := t.client.SAdd(ctx, userConnsKey(userID), connID).Err(); err != nil {
		return Update{}, fmt.Errorf("presence: mark online: %w", err)
	}
	// Last-seen only describes an offline user.
	if err := t.client.Del(ctx, lastSeenKey(userID)).Err(); err != nil {
		return Update{}, fmt.Errorf("presence: mark online: %w", err)
	}
	return Update{UserID: userID, Online: true}, nil
}

func (t *RedisTracker) MarkOfflineIfLast(ctx context.Context, userID, connID string) (*Update, error) {
	if err := t.client.SRem(ctx, userConnsKey(userID), connID).Err(); err != nil {
		return nil, fmt.Errorf("presence: mark offline: %w", err)
	}

	remaining, err := t.client.SCard(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: mark offline: %w", err)
	}
	if remaining > 0 {
		return nil, nil
	}

	if err := t.client.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return nil, fmt.Errorf("presence: mark offline: %w", err)
	}

	lastSeen := time.Now().UTC()
	if err := t.client.Set(ctx, lastSeenKey(userID), lastSeen.Format(time.RFC3339Nano), t.lastSeenTTL).Err(); err != nil {
		return nil, fmt.Errorf("presence: record last seen: %w", err)
	}

	return &Update{UserID: userID, Online: false, LastSeen: &lastSeen}, nil
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	online, err := t.client.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence: is online: %w", err)
	}
	return online, nil
}

func (t *RedisTracker) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	raw, err := t.client.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence: last seen: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("presence: parse last seen: %w", err)
	}
	return &ts, nil
}
