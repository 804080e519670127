package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

// limiterDatabase keeps rate limit counters apart from queue and lock keys
const limiterDatabase = 3

// NewLimiterStorage builds rate limiter storage on the server behind client.
// The storage connects eagerly, so call it only once the server answered a ping.
func NewLimiterStorage(client *redis.Client) fiber.Storage {
	opts := client.Options()
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Username: opts.Username,
		Password: opts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
