package config

import (
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	Port     string
	LogLevel string

	// 离线计算产物目录（topic_terms.csv、yearly_trends.csv 等）
	DataDir string
	VisPath string

	AI AIConfig

	// 缓存后端，按优先级选择：Postgres > Redis > SQLite > 文件 > 内存
	DatabaseURL     string
	RedisURL        string
	CacheSQLitePath string
	CacheDir        string
	CacheTTL        time.Duration
}

// AIConfig 上游文本生成服务配置
type AIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration // 首字节超时 & 两个chunk之间的最大间隔
	HeartbeatInterval time.Duration // 0 表示不发送心跳
	RateLimit         float64       // 每秒请求数，0 表示不限流
	RateBurst         int
}

// Load 从环境变量加载配置
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "5000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DataDir:  getEnv("DATA_DIR", "./data/models/lda"),
		VisPath:  getEnv("VIS_PATH", ""),
		AI: AIConfig{
			BaseURL:           getEnv("AI_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"),
			APIKey:            getEnv("AI_API_KEY", ""),
			Model:             getEnv("AI_MODEL", "qwen-plus"),
			Temperature:       getEnvFloat("AI_TEMPERATURE", 0.7),
			MaxTokens:         getEnvInt("AI_MAX_TOKENS", 2000),
			Timeout:           getEnvDuration("AI_TIMEOUT", 30*time.Second),
			HeartbeatInterval: getEnvDuration("AI_HEARTBEAT_INTERVAL", 15*time.Second),
			RateLimit:         getEnvFloat("AI_RATE_LIMIT", 2),
			RateBurst:         getEnvInt("AI_RATE_BURST", 5),
		},
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		CacheSQLitePath: getEnv("CACHE_SQLITE_PATH", ""),
		CacheDir:        getEnv("CACHE_DIR", ""),
		CacheTTL:        getEnvDuration("CACHE_TTL", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration 支持 "30s" 形式，也兼容纯数字（按秒）
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
