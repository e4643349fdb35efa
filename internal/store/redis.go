package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotaflow/quotaflow/internal/clock"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second

	redisKeyPrefix = "quotaflow:rl:"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	// URL, when set, takes precedence over Host/Port/Password/DB.
	// Accepts redis:// and rediss:// URLs.
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	Cluster      bool
	ClusterNodes []string

	PoolSize    int
	MaxRetries  int
	DialTimeout time.Duration
}

// RedisStore is a Store backed by Redis. Entries are stored as JSON values
// with a server-side TTL (SET ... PX), so expiry needs no sweeping on our
// side. Increment is get-then-set, not INCR; see the Store docs for the
// concurrency caveat this carries.
type RedisStore struct {
	client redis.UniversalClient
	clock  clock.Clock

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to Redis and verifies the connection with a
// bounded ping-retry before returning.
func NewRedisStore(cfg *RedisConfig, c clock.Clock) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := newRedisClient(conf)
	if err != nil {
		return nil, err
	}

	s := &RedisStore{client: client, clock: c}
	if err := s.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding entry for %q: %w", key, err)
	}
	if e.Expired(s.clock.Now()) {
		// TTL should have removed it already; clean up and report absent.
		_ = s.client.Del(ctx, redisKeyPrefix+key).Err()
		return nil, nil
	}
	return &e, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry for %q: %w", key, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (*Entry, error) {
	now := s.clock.Now()

	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if current != nil {
		current.Count++
		if err := s.Set(ctx, key, current, current.ResetTime.Sub(now)); err != nil {
			return nil, err
		}
		return current, nil
	}

	fresh := &Entry{Count: 1, ResetTime: now.Add(window)}
	if err := s.Set(ctx, key, fresh, window); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Close releases the Redis client. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}

	if conf.URL != "" || conf.Cluster && len(conf.ClusterNodes) > 0 {
		return &conf, nil
	}
	if conf.Cluster {
		return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
	}
	if conf.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if conf.Port <= 0 {
		return nil, fmt.Errorf("port must be positive, got %d", conf.Port)
	}
	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts.PoolSize = cfg.PoolSize
		opts.MaxRetries = cfg.MaxRetries
		opts.DialTimeout = cfg.DialTimeout
		return redis.NewClient(opts), nil
	}

	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			MaxRetries:  cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
		}), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	}), nil
}
