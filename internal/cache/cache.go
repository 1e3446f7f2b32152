package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CachedResult 缓存的计算结果（主题年度详情、关键词列表等）
type CachedResult struct {
	Key       string          `json:"key"`
	Namespace string          `json:"namespace"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Cache 缓存接口，未命中或已过期时 Get 返回 (nil, nil)
type Cache interface {
	Get(ctx context.Context, key string) (*CachedResult, error)
	Set(ctx context.Context, key string, data any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON 读取缓存并解码到 dst，返回是否命中
func GetJSON(ctx context.Context, c Cache, key string, dst any) (bool, error) {
	result, err := c.Get(ctx, key)
	if err != nil || result == nil {
		return false, err
	}
	if err := json.Unmarshal(result.Data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

func newResult(namespace, key string, data any, ttl time.Duration) (*CachedResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	now := time.Now()
	return &CachedResult{
		Key:       key,
		Namespace: namespace,
		Data:      raw,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// FileCache 基于文件的缓存实现
type FileCache struct {
	dir       string
	namespace string
	mu        sync.RWMutex
}

// NewFileCache 创建文件缓存
func NewFileCache(dir, namespace string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir, namespace: namespace}, nil
}

// cacheFile key 里可能有 ":" "/" 等字符，统一取哈希作文件名
func (c *FileCache) cacheFile(key string) string {
	sum := sha1.Sum([]byte(c.namespace + "\x00" + key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get 获取缓存
func (c *FileCache) Get(ctx context.Context, key string) (*CachedResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.cacheFile(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var result CachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if time.Now().After(result.ExpiresAt) {
		go c.Delete(context.Background(), key)
		return nil, nil
	}

	return &result, nil
}

// Set 设置缓存
func (c *FileCache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	result, err := newResult(c.namespace, key, data, ttl)
	if err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return os.WriteFile(c.cacheFile(key), jsonData, 0644)
}

// Delete 删除缓存
func (c *FileCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.cacheFile(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemoryCache 内存缓存实现（用于测试或单机部署）
type MemoryCache struct {
	data map[string]*CachedResult
	mu   sync.RWMutex
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]*CachedResult),
	}
}

// Get 获取缓存
func (c *MemoryCache) Get(ctx context.Context, key string) (*CachedResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.data[key]
	if !ok {
		return nil, nil
	}

	if time.Now().After(result.ExpiresAt) {
		go c.Delete(context.Background(), key)
		return nil, nil
	}

	return result, nil
}

// Set 设置缓存
func (c *MemoryCache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	result, err := newResult("memory", key, data, ttl)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = result
	return nil
}

// Delete 删除缓存
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}
