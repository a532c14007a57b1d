package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chatsync/pkg/domain"
)

// Cache stores denormalized display records keyed by user id.
type Cache interface {
	Get(ctx context.Context, uid string) (domain.DisplayUser, bool, error)
	Set(ctx context.Context, uid string, u domain.DisplayUser) error
	Delete(ctx context.Context, uid string) error
}

// MemoryCache keeps display records in-process.
type MemoryCache struct {
	mu    sync.RWMutex
	users map[string]domain.DisplayUser
}

// NewMemoryCache initializes an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{users: make(map[string]domain.DisplayUser)}
}

func (c *MemoryCache) Get(ctx context.Context, uid string) (domain.DisplayUser, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[uid]
	return u, ok, nil
}

func (c *MemoryCache) Set(ctx context.Context, uid string, u domain.DisplayUser) error {
	c.mu.Lock()
	c.users[uid] = u
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, uid string) error {
	c.mu.Lock()
	delete(c.users, uid)
	c.mu.Unlock()
	return nil
}

const redisCachePrefix = "profile:"

// RedisCache keeps display records in Redis with TTL so several client
// processes share one profile cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a Redis-backed cache.
func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, uid string) (domain.DisplayUser, bool, error) {
	val, err := c.client.Get(ctx, redisCachePrefix+uid).Bytes()
	if err == redis.Nil {
		return domain.DisplayUser{}, false, nil
	}
	if err != nil {
		return domain.DisplayUser{}, false, fmt.Errorf("cache get: %w", err)
	}
	var u domain.DisplayUser
	if err := json.Unmarshal(val, &u); err != nil {
		return domain.DisplayUser{}, false, nil
	}
	return u, true, nil
}

func (c *RedisCache) Set(ctx context.Context, uid string, u domain.DisplayUser) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := c.client.Set(ctx, redisCachePrefix+uid, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, uid string) error {
	if err := c.client.Del(ctx, redisCachePrefix+uid).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}
