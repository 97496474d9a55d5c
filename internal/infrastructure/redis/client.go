package redisinfra

import (
	"github.com/go-identity-core/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client with bounded dial/read/write timeouts so
// that no store call can block indefinitely.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	})
}
