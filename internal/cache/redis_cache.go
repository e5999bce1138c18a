package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"gudangkopi/internal/domain"
)

type RedisInventoryCache struct {
	client *redis.Client
}

func NewRedisInventoryCache(addr string, password string, db int) *RedisInventoryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInventoryCache{client: client}
}

func (c *RedisInventoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInventoryCache) Close() error {
	return c.client.Close()
}

func key(shopID string) string {
	return "inventory:" + shopID
}

func (c *RedisInventoryCache) Get(ctx context.Context, shopID string) ([]domain.RetailInventory, bool, error) {
	val, err := c.client.Get(ctx, key(shopID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []domain.RetailInventory
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *RedisInventoryCache) Set(ctx context.Context, shopID string, rows []domain.RetailInventory, ttl time.Duration) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(shopID), payload, ttl).Err()
}

func (c *RedisInventoryCache) Invalidate(ctx context.Context, shopID string) error {
	return c.client.Del(ctx, key(shopID)).Err()
}
