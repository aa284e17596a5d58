package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/repository/cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{
		rdb: rdb,
	}
}

func (c *Cache) Get(ctx context.Context, batchKey string) (domain.BatchConfiguration, error) {
	key := cache.BatchConfigKey(batchKey)
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BatchConfiguration{}, cache.ErrKeyNotFound
		}
		return domain.BatchConfiguration{}, fmt.Errorf("failed to get config from redis %w", err)
	}

	var cfg domain.BatchConfiguration
	err = json.Unmarshal([]byte(val), &cfg)
	if err != nil {
		return domain.BatchConfiguration{}, fmt.Errorf("failed to unmarshal config data %w", err)
	}

	return cfg, nil
}

func (c *Cache) Set(ctx context.Context, cfg domain.BatchConfiguration) error {
	key := cache.BatchConfigKey(cfg.BatchKey)

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config data %w", err)
	}

	err = c.rdb.Set(ctx, key, data, cache.DefaultExpiredTime).Err()
	if err != nil {
		return fmt.Errorf("failed to set config to redis %w", err)
	}
	return nil
}

func (c *Cache) Del(ctx context.Context, batchKey string) error {
	return c.rdb.Del(ctx, cache.BatchConfigKey(batchKey)).Err()
}
