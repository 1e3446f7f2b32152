package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detail struct {
	ID    int      `json:"id"`
	Year  int      `json:"year"`
	Terms []string `json:"terms"`
}

// exerciseCache 所有后端共用的行为检查
func exerciseCache(t *testing.T, c Cache, checkExpiry bool) {
	t.Helper()
	ctx := context.Background()

	miss, err := c.Get(ctx, "topic-year:1:2020")
	require.NoError(t, err)
	assert.Nil(t, miss)

	want := detail{ID: 1, Year: 2020, Terms: []string{"network", "graph"}}
	require.NoError(t, c.Set(ctx, "topic-year:1:2020", want, time.Hour))

	var got detail
	hit, err := GetJSON(ctx, c, "topic-year:1:2020", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, want, got)

	// 覆盖写
	want.Terms = []string{"vision"}
	require.NoError(t, c.Set(ctx, "topic-year:1:2020", want, time.Hour))
	hit, err = GetJSON(ctx, c, "topic-year:1:2020", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []string{"vision"}, got.Terms)

	require.NoError(t, c.Delete(ctx, "topic-year:1:2020"))
	hit, err = GetJSON(ctx, c, "topic-year:1:2020", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	if checkExpiry {
		require.NoError(t, c.Set(ctx, "stale", want, -time.Second))
		stale, err := c.Get(ctx, "stale")
		require.NoError(t, err)
		assert.Nil(t, stale)
	}
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache(), true)
}

func TestFileCache(t *testing.T) {
	c, err := NewFileCache(filepath.Join(t.TempDir(), "cache"), "topics")
	require.NoError(t, err)
	exerciseCache(t, c, true)
}

func TestSQLiteCache(t *testing.T) {
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), "topics")
	require.NoError(t, err)
	defer c.Close()
	exerciseCache(t, c, true)

	n, err := c.CleanExpired(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(0))
}

func TestPostgresCache(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	c, err := NewPostgresCache(url, "topics-test")
	require.NoError(t, err)
	defer c.Close()
	exerciseCache(t, c, true)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	c, err := NewRedisCache(context.Background(), url, "topics-test")
	require.NoError(t, err)
	defer c.Close()
	exerciseCache(t, c, false)
}
