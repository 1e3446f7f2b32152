package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache 单文件缓存，适合无数据库的单机部署
// 时间按 UnixNano 存储，避免驱动之间的时间格式差异
type SQLiteCache struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteCache 打开（或创建）SQLite 缓存文件
func NewSQLiteCache(path, namespace string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS topic_cache (
		namespace  TEXT    NOT NULL,
		cache_key  TEXT    NOT NULL,
		data       BLOB    NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, cache_key)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLiteCache{db: db, namespace: namespace}, nil
}

// Get 获取缓存
func (c *SQLiteCache) Get(ctx context.Context, key string) (*CachedResult, error) {
	query := `
	SELECT data, created_at, expires_at
	FROM topic_cache
	WHERE namespace = ? AND cache_key = ? AND expires_at > ?
	`

	var data []byte
	var created, expires int64
	err := c.db.QueryRowContext(ctx, query, c.namespace, key, time.Now().UnixNano()).Scan(&data, &created, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &CachedResult{
		Key:       key,
		Namespace: c.namespace,
		Data:      data,
		CreatedAt: time.Unix(0, created),
		ExpiresAt: time.Unix(0, expires),
	}, nil
}

// Set 设置缓存
func (c *SQLiteCache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	result, err := newResult(c.namespace, key, data, ttl)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO topic_cache (namespace, cache_key, data, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (namespace, cache_key)
	DO UPDATE SET data = excluded.data, created_at = excluded.created_at, expires_at = excluded.expires_at
	`
	_, err = c.db.ExecContext(ctx, query, c.namespace, key, []byte(result.Data),
		result.CreatedAt.UnixNano(), result.ExpiresAt.UnixNano())
	return err
}

// Delete 删除缓存
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM topic_cache WHERE namespace = ? AND cache_key = ?`, c.namespace, key)
	return err
}

// CleanExpired 清理过期缓存
func (c *SQLiteCache) CleanExpired(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM topic_cache WHERE expires_at < ?`, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close 关闭数据库
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
