package router

import (
	"net"
	"strconv"

	"github.com/gofiber/storage/redis"

	"github.com/curadesk/curadesk/internal/pkg/cache"
	"github.com/curadesk/curadesk/internal/pkg/env"
)

// limiterStorage backs the rate limiters with Redis so counts survive
// restarts and are shared across instances. Uses database 1 (cache uses 0).
func limiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
