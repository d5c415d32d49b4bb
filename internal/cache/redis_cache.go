package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mesa/backend/internal/domain"
)

type RedisMenuCache struct {
	client redis.Cmdable
	closer func() error
}

func NewRedisMenuCache(addr string, password string, db int) *RedisMenuCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMenuCache{client: client, closer: client.Close}
}

// NewRedisMenuCacheWithClient wraps an existing client. Close is a no-op.
func NewRedisMenuCacheWithClient(client redis.Cmdable) *RedisMenuCache {
	return &RedisMenuCache{client: client, closer: func() error { return nil }}
}

func (c *RedisMenuCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMenuCache) Close() error {
	return c.closer()
}

func (c *RedisMenuCache) Get(ctx context.Context, restaurantID string) (*domain.Menu, bool, error) {
	val, err := c.client.Get(ctx, menuKey(restaurantID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var menu domain.Menu
	if err := json.Unmarshal([]byte(val), &menu); err != nil {
		return nil, false, err
	}
	return &menu, true, nil
}

func (c *RedisMenuCache) Set(ctx context.Context, restaurantID string, menu *domain.Menu, ttl time.Duration) error {
	if menu == nil {
		return nil
	}
	payload, err := json.Marshal(menu)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, menuKey(restaurantID), payload, ttl).Err()
}

func (c *RedisMenuCache) Delete(ctx context.Context, restaurantID string) error {
	return c.client.Del(ctx, menuKey(restaurantID)).Err()
}
