// Package limiter implements fixed-window request admission over a pluggable
// counter store.
//
// Time is divided into windows of Config.Window starting at a key's first
// counted request. Each request increments the key's counter; once the count
// exceeds Config.Max the remaining requests in that window are denied. The
// counter expires with the window and the next request starts a fresh one.
//
// Store failures never deny a request: the limiter logs a warning and admits
// the request as if it opened a fresh window (fail open).
package limiter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/clock"
	"github.com/quotaflow/quotaflow/internal/store"
)

// Config holds the parameters for one limiter instance. It is not mutated
// after New.
type Config struct {
	// Window is the fixed window duration.
	Window time.Duration `json:"window"`
	// Max is the number of requests admitted per key per window.
	Max int `json:"max"`
	// Message is the human-readable text returned with 429 responses.
	Message string `json:"message"`
	// StandardHeaders enables the draft RateLimit-* response headers.
	StandardHeaders bool `json:"standardHeaders"`
	// LegacyHeaders enables the X-RateLimit-* response headers.
	LegacyHeaders bool `json:"legacyHeaders"`

	// KeyFunc overrides client key derivation. Defaults to DefaultKeyFunc.
	KeyFunc KeyFunc `json:"-"`
	// Skip short-circuits the check to success without touching the store.
	Skip func(*http.Request) bool `json:"-"`
	// OnLimitReached is invoked each time a request is denied.
	OnLimitReached func(*http.Request, Result) `json:"-"`
}

// Result is the outcome of one admission check. It is derived per request
// and never persisted.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"resetTime"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

// Limiter admits or denies requests for one category against a store.
// All store keys are namespaced "<name>:<client key>" so limiters sharing a
// store never collide on the same identity.
type Limiter struct {
	name   string
	cfg    Config
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a limiter. The logger may be nil.
func New(name string, cfg Config, st store.Store, c clock.Clock, logger *zap.Logger) (*Limiter, error) {
	if name == "" {
		return nil, fmt.Errorf("limiter name is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("max must be positive, got %d", cfg.Max)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultKeyFunc
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		name:   name,
		cfg:    cfg,
		store:  st,
		clock:  c,
		logger: logger,
	}, nil
}

// Name returns the limiter's category name.
func (l *Limiter) Name() string { return l.name }

// Limit returns the configured per-window ceiling.
func (l *Limiter) Limit() int { return l.cfg.Max }

// Window returns the configured window duration.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// Message returns the configured rejection message.
func (l *Limiter) Message() string { return l.cfg.Message }

// Config returns a copy of the limiter's configuration.
func (l *Limiter) Config() Config { return l.cfg }

// Check runs the admission decision for r, counting it against the client's
// window unless Skip applies.
func (l *Limiter) Check(ctx context.Context, r *http.Request) Result {
	if l.cfg.Skip != nil && l.cfg.Skip(r) {
		return Result{Allowed: true, Limit: l.cfg.Max, Remaining: l.cfg.Max}
	}

	res := l.CheckKey(ctx, l.cfg.KeyFunc(r))
	if !res.Allowed && l.cfg.OnLimitReached != nil {
		l.cfg.OnLimitReached(r, res)
	}
	return res
}

// CheckKey counts one request for the given client key and decides admission.
func (l *Limiter) CheckKey(ctx context.Context, clientKey string) Result {
	now := l.clock.Now()

	entry, err := l.store.Increment(ctx, l.storeKey(clientKey), l.cfg.Window)
	if err != nil {
		// Fail open: a broken store must not reject legitimate traffic.
		l.logger.Warn("rate limit store unavailable, admitting request",
			zap.String("limiter", l.name),
			zap.Error(err))
		entry = &store.Entry{Count: 1, ResetTime: now.Add(l.cfg.Window)}
	}

	return l.resultFor(entry, now)
}

// Status reports the current window state for r's client without counting a
// request. An absent key reports the full budget and does not create an entry.
func (l *Limiter) Status(ctx context.Context, r *http.Request) Result {
	return l.StatusKey(ctx, l.cfg.KeyFunc(r))
}

// StatusKey is Status for an already-derived client key.
func (l *Limiter) StatusKey(ctx context.Context, clientKey string) Result {
	entry, err := l.store.Get(ctx, l.storeKey(clientKey))
	if err != nil {
		l.logger.Warn("rate limit store unavailable, reporting full budget",
			zap.String("limiter", l.name),
			zap.Error(err))
		entry = nil
	}
	if entry == nil {
		return Result{Allowed: true, Limit: l.cfg.Max, Remaining: l.cfg.Max}
	}
	return l.resultFor(entry, l.clock.Now())
}

// Clear drops the window entry for r's client, restoring the full budget.
// Used for administrative overrides and tests.
func (l *Limiter) Clear(ctx context.Context, r *http.Request) error {
	return l.ClearKey(ctx, l.cfg.KeyFunc(r))
}

// ClearKey is Clear for an already-derived client key.
func (l *Limiter) ClearKey(ctx context.Context, clientKey string) error {
	if err := l.store.Delete(ctx, l.storeKey(clientKey)); err != nil {
		return fmt.Errorf("clearing %s limit for %q: %w", l.name, clientKey, err)
	}
	return nil
}

func (l *Limiter) storeKey(clientKey string) string {
	return l.name + ":" + clientKey
}

func (l *Limiter) resultFor(entry *store.Entry, now time.Time) Result {
	res := Result{
		Allowed:   entry.Count <= int64(l.cfg.Max),
		Limit:     l.cfg.Max,
		Remaining: int(int64(l.cfg.Max) - entry.Count),
		ResetTime: entry.ResetTime,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = ceilSeconds(entry.ResetTime.Sub(now))
	}
	return res
}

// ceilSeconds rounds d up to whole seconds, never below one second.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
