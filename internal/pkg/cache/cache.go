package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inmodash/inmodash-backend/internal/pkg/env"
)

// Options returns the Redis connection settings from CACHE_* variables
func Options() *redis.Options {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")
	db, err := strconv.Atoi(env.GetEnv("CACHE_DB", "0"))
	if err != nil {
		db = 0
	}

	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       db,
	}
}

// NewClientFromEnv connects to the Redis server used for the job queue,
// locks and rate limiting. The caller closes the client on shutdown.
func NewClientFromEnv(ctx context.Context) *redis.Client {
	client := redis.NewClient(Options())

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
	return client
}
