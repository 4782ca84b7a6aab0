package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-relay/internal/cache"
	"github.com/kursadbilgin/notify-relay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// incrScript sets the expiry only on the first increment so the window
// decays from the first failure instead of sliding on every write.
var incrScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ cache.Store = (*Cache)(nil)

// Cache implements cache.Store on Redis.
type Cache struct {
	client *goredis.Client
}

func NewCache(client *goredis.Client) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Cache{client: client}, nil
}

func (c *Cache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, infraError("setnx", key, err)
	}
	return ok, nil
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, infraError("get", key, err)
	}
	return value, true, nil
}

func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, c.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, infraError("incr", key, err)
	}
	return count, nil
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return infraError("set", key, err)
	}
	return nil
}

func (c *Cache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return infraError("del", key, err)
	}
	return nil
}

func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, infraError("pttl", key, err)
	}
	// PTTL reports -2 for missing keys and -1 for keys without expiry.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func infraError(op string, key string, err error) error {
	return fmt.Errorf("%w: redis %s %q: %w", domain.ErrInfrastructure, op, key, err)
}
