package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache Redis缓存实现，过期交给 Redis TTL 处理
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache 根据 redis:// URL 创建缓存
func NewRedisCache(ctx context.Context, redisURL, namespace string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCache{client: client, namespace: namespace}, nil
}

func (c *RedisCache) redisKey(key string) string {
	return c.namespace + ":" + key
}

// Get 获取缓存
func (c *RedisCache) Get(ctx context.Context, key string) (*CachedResult, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result CachedResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Set 设置缓存
func (c *RedisCache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	result, err := newResult(c.namespace, key, data, ttl)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.redisKey(key), raw, ttl).Err()
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.redisKey(key)).Err()
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}
