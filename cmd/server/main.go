package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"topictrend-go/config"
	"topictrend-go/internal/cache"
	"topictrend-go/internal/fetcher"
	"topictrend-go/internal/handler"
	"topictrend-go/internal/logging"
	"topictrend-go/internal/service"
)

func main() {
	// 加载 .env 文件（如果存在）
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, os.Stderr)
	if envErr != nil {
		logger.Info("No .env file found, using environment variables")
	}

	if cfg.AI.APIKey == "" {
		logger.Warn("AI_API_KEY not configured, AI analysis will fail upstream")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topicCache, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	topicService := service.NewTopicService(cfg.DataDir, cfg.VisPath, topicCache, cfg.CacheTTL, logger)
	analysisService := service.NewAnalysisService(fetcher.NewGenerationClient(cfg.AI), logger)

	var limiter *rate.Limiter
	if cfg.AI.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AI.RateLimit), max(cfg.AI.RateBurst, 1))
	}

	router := handler.NewRouter(
		handler.NewTopicHandler(topicService, logger),
		handler.NewAnalysisHandler(analysisService, limiter, cfg.AI.HeartbeatInterval, logger),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("Server starting", "port", cfg.Port, "data_dir", cfg.DataDir, "model", cfg.AI.Model)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", "err", err)
	}
	logger.Info("Server stopped")
}

// expirer 需要定期清理过期行的后端
type expirer interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// newCache 按优先级选择缓存：PostgreSQL > Redis > SQLite > 文件 > 内存，连接失败时降级
func newCache(ctx context.Context, cfg *config.Config, logger *log.Logger) (cache.Cache, func()) {
	const namespace = "topics"
	noop := func() {}

	var c cache.Cache
	var closeFn func() error

	if cfg.DatabaseURL != "" {
		pg, err := cache.NewPostgresCache(cfg.DatabaseURL, namespace)
		if err != nil {
			logger.Warn("Failed to connect to PostgreSQL, falling back", "err", err)
		} else {
			logger.Info("Using PostgreSQL cache")
			c, closeFn = pg, pg.Close
		}
	}
	if c == nil && cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, namespace)
		if err != nil {
			logger.Warn("Failed to connect to Redis, falling back", "err", err)
		} else {
			logger.Info("Using Redis cache")
			c, closeFn = rc, rc.Close
		}
	}
	if c == nil && cfg.CacheSQLitePath != "" {
		sc, err := cache.NewSQLiteCache(cfg.CacheSQLitePath, namespace)
		if err != nil {
			logger.Warn("Failed to open SQLite cache, falling back", "path", cfg.CacheSQLitePath, "err", err)
		} else {
			logger.Info("Using SQLite cache", "path", cfg.CacheSQLitePath)
			c, closeFn = sc, sc.Close
		}
	}
	if c == nil && cfg.CacheDir != "" {
		fc, err := cache.NewFileCache(cfg.CacheDir, namespace)
		if err != nil {
			logger.Warn("Failed to create file cache, falling back", "dir", cfg.CacheDir, "err", err)
		} else {
			logger.Info("Using file cache", "dir", cfg.CacheDir)
			c = fc
		}
	}
	if c == nil {
		logger.Info("No cache backend configured, using memory cache")
		return cache.NewMemoryCache(), noop
	}

	if e, ok := c.(expirer); ok {
		go cleanLoop(ctx, e, cfg.CacheTTL, logger)
	}
	if closeFn == nil {
		return c, noop
	}
	return c, func() {
		if err := closeFn(); err != nil {
			logger.Warn("Failed to close cache", "err", err)
		}
	}
}

func cleanLoop(ctx context.Context, e expirer, ttl time.Duration, logger *log.Logger) {
	interval := ttl
	if interval <= 0 || interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.CleanExpired(ctx)
			if err != nil {
				logger.Warn("Failed to clean expired cache", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("Cleaned expired cache entries", "count", n)
			}
		}
	}
}
