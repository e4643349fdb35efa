package store

import (
	"context"
	"time"
)

// Backend names accepted by the factory and the --store flag.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendRESTKV = "restkv"
)

// Entry is the counter state for one key within one fixed window.
// At most one live Entry exists per key; Count never decreases inside a
// window and restarts at 1 when a new window opens.
type Entry struct {
	Count     int64     `json:"count"`
	ResetTime time.Time `json:"resetTime"`
}

// Expired reports whether the entry's window has ended as of now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetTime)
}

// Store is a keyed counter with expiry. Implementations must be safe for
// concurrent use.
//
// Increment on the Redis and REST KV backends is a read-modify-write over
// separate get and set calls, so two concurrent increments on the same key
// can lose one update. That is an accepted property of the fixed-window
// design, not something callers may rely on being fixed.
type Store interface {
	// Get returns the entry for key, or nil if the key is absent or its
	// window has expired. Implementations may evict the expired entry as a
	// side effect.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key with the given time to live.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Increment bumps the counter for key. If an unexpired entry exists its
	// count is incremented and persisted with the window's remaining TTL;
	// otherwise a fresh entry {Count: 1, ResetTime: now + window} is created
	// with the full window as TTL. Returns the post-update entry.
	Increment(ctx context.Context, key string, window time.Duration) (*Entry, error)

	// Delete removes the entry for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
