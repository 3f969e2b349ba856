package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceCache keeps a TTL-bound copy of last_seen so online-status
// reads do not hit the profile store. A nil client disables the cache.
type RedisPresenceCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisPresenceCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPresenceCache {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisPresenceCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisPresenceCache) Touch(ctx context.Context, userID string, at time.Time) error {
	if c.client == nil {
		return nil
	}
	dataKey := c.lastSeenKey(userID)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, dataKey, at.UTC().Format(time.RFC3339Nano), c.ttl)
	pipe.SAdd(ctx, c.onlineIndexKey(), userID)
	pipe.Expire(ctx, c.onlineIndexKey(), c.ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisPresenceCache) Forget(ctx context.Context, userID string) error {
	if c.client == nil {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.lastSeenKey(userID))
	pipe.SRem(ctx, c.onlineIndexKey(), userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisPresenceCache) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	if c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, c.lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// OnlineIDs returns member ids whose last_seen key is still alive. Members
// whose key expired are pruned from the index on the way out.
func (c *RedisPresenceCache) OnlineIDs(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, nil
	}
	members, err := c.client.SMembers(ctx, c.onlineIndexKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	online := make([]string, 0, len(members))
	var stale []any
	for _, id := range members {
		exists, err := c.client.Exists(ctx, c.lastSeenKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if exists > 0 {
			online = append(online, id)
			continue
		}
		stale = append(stale, id)
	}
	if len(stale) > 0 {
		_ = c.client.SRem(ctx, c.onlineIndexKey(), stale...).Err()
	}
	return online, nil
}

func (c *RedisPresenceCache) lastSeenKey(userID string) string {
	return fmt.Sprintf("%s:last_seen:%s", c.prefix, userID)
}

func (c *RedisPresenceCache) onlineIndexKey() string {
	return fmt.Sprintf("%s:online", c.prefix)
}
