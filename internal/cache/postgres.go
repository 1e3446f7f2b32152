package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresCache PostgreSQL缓存实现
type PostgresCache struct {
	db        *sql.DB
	namespace string
}

// NewPostgresCache 创建PostgreSQL缓存，表不存在时自动创建
func NewPostgresCache(databaseURL, namespace string) (*PostgresCache, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS topic_cache (
		namespace  TEXT        NOT NULL,
		cache_key  TEXT        NOT NULL,
		data       JSONB       NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (namespace, cache_key)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &PostgresCache{db: db, namespace: namespace}, nil
}

// Get 获取缓存
func (c *PostgresCache) Get(ctx context.Context, key string) (*CachedResult, error) {
	query := `
	SELECT cache_key, namespace, data, created_at, expires_at
	FROM topic_cache
	WHERE namespace = $1 AND cache_key = $2 AND expires_at > NOW()
	`

	var result CachedResult
	var data []byte

	err := c.db.QueryRowContext(ctx, query, c.namespace, key).Scan(
		&result.Key,
		&result.Namespace,
		&data,
		&result.CreatedAt,
		&result.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result.Data = data
	return &result, nil
}

// Set 设置缓存
func (c *PostgresCache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	result, err := newResult(c.namespace, key, data, ttl)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO topic_cache (namespace, cache_key, data, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (namespace, cache_key)
	DO UPDATE SET data = $3, created_at = $4, expires_at = $5
	`

	_, err = c.db.ExecContext(ctx, query, c.namespace, key, []byte(result.Data), result.CreatedAt, result.ExpiresAt)
	return err
}

// Delete 删除缓存
func (c *PostgresCache) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM topic_cache WHERE namespace = $1 AND cache_key = $2`
	_, err := c.db.ExecContext(ctx, query, c.namespace, key)
	return err
}

// Close 关闭数据库连接
func (c *PostgresCache) Close() error {
	return c.db.Close()
}

// CleanExpired 清理过期缓存
func (c *PostgresCache) CleanExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM topic_cache WHERE expires_at < NOW()`
	result, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
