package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"celestra-auth/internal/config"

	"github.com/redis/go-redis/v9"
)

// Connect builds the shared Redis client. A failed ping is logged, not
// fatal: callers treat the client as an optional cache and fall back to
// the database when it is unavailable.
func Connect(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
	}

	return rdb
}
