package store

import (
	"fmt"
	"os"
	"strconv"

	"github.com/quotaflow/quotaflow/internal/clock"
)

// Config selects and parameterizes one backend. Exactly one of the backend
// config blocks is consulted, per Backend.
type Config struct {
	Backend string
	Redis   *RedisConfig
	RESTKV  *RESTKVConfig
}

// ConfigFromEnv derives a store Config from the environment, probed once at
// startup. Preference order: REST KV if its credentials are present, then
// Redis, then memory.
func ConfigFromEnv() Config {
	if url, token := os.Getenv("KV_REST_API_URL"), os.Getenv("KV_REST_API_TOKEN"); url != "" && token != "" {
		return Config{
			Backend: BackendRESTKV,
			RESTKV:  &RESTKVConfig{URL: url, Token: token},
		}
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		return Config{
			Backend: BackendRedis,
			Redis:   &RedisConfig{URL: url},
		}
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := 6379
		if p, err := strconv.Atoi(os.Getenv("REDIS_PORT")); err == nil && p > 0 {
			port = p
		}
		return Config{
			Backend: BackendRedis,
			Redis: &RedisConfig{
				Host:     host,
				Port:     port,
				Password: os.Getenv("REDIS_PASSWORD"),
			},
		}
	}

	return Config{Backend: BackendMemory}
}

// New constructs the configured backend. Choosing the memory backend in a
// production-like environment is advised against by config validation, but
// it is never refused here.
func New(cfg Config, c clock.Clock) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(c), nil
	case BackendRedis:
		return NewRedisStore(cfg.Redis, c)
	case BackendRESTKV:
		return NewRESTKVStore(cfg.RESTKV, c)
	default:
		return nil, fmt.Errorf("unknown store backend %q, must be one of: memory, redis, restkv", cfg.Backend)
	}
}
