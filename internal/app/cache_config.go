package app

import (
	"strings"

	"github.com/santaserver/santaserver/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		URL:      strings.TrimSpace(c.Redis.URL),
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// RedisEnabled reports whether a Redis backend should be used. Setting a URL implies it.
func (c CacheConfig) RedisEnabled() bool {
	return c.Redis.Enabled || strings.TrimSpace(c.Redis.URL) != ""
}
