package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quotaflow/quotaflow/internal/clock"
)

const restKVKeyPrefix = "quotaflow:rl:"

// RESTKVConfig holds the endpoint and token for a Redis-over-REST service
// (Vercel KV, Upstash). The endpoint accepts a JSON command array via POST
// with bearer-token auth and answers {"result": ...} or {"error": ...}.
type RESTKVConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// RESTKVStore is a Store backed by a Redis-compatible REST endpoint.
// Same entry encoding and get-then-set increment as RedisStore.
type RESTKVStore struct {
	endpoint string
	token    string
	client   *http.Client
	clock    clock.Clock
}

// NewRESTKVStore creates a REST KV store. It does not probe the endpoint;
// the first command will surface connectivity problems, which callers
// absorb via the fail-open path.
func NewRESTKVStore(cfg *RESTKVConfig, c clock.Clock) (*RESTKVStore, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("rest kv url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("rest kv token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &RESTKVStore{
		endpoint: strings.TrimRight(cfg.URL, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
		clock:    c,
	}, nil
}

func (s *RESTKVStore) Get(ctx context.Context, key string) (*Entry, error) {
	res, err := s.command(ctx, "GET", restKVKeyPrefix+key)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	var e Entry
	if err := json.Unmarshal([]byte(*res), &e); err != nil {
		return nil, fmt.Errorf("decoding entry for %q: %w", key, err)
	}
	if e.Expired(s.clock.Now()) {
		_, _ = s.command(ctx, "DEL", restKVKeyPrefix+key)
		return nil, nil
	}
	return &e, nil
}

func (s *RESTKVStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry for %q: %w", key, err)
	}

	args := []string{"SET", restKVKeyPrefix + key, string(raw)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	_, err = s.command(ctx, args...)
	return err
}

func (s *RESTKVStore) Increment(ctx context.Context, key string, window time.Duration) (*Entry, error) {
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

func (s *RESTKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.command(ctx, "DEL", restKVKeyPrefix+key)
	return err
}

// Close is a no-op; the store owns no persistent connections.
func (s *RESTKVStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// command POSTs a Redis command array to the REST endpoint and returns the
// raw result value, or nil for a null result (absent key).
func (s *RESTKVStore) command(ctx context.Context, args ...string) (*string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building kv request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kv %s: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading kv response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kv %s: status %d: %s", args[0], resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Result *json.RawMessage `json:"result"`
		Error  string           `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding kv response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("kv %s: %s", args[0], parsed.Error)
	}
	if parsed.Result == nil || string(*parsed.Result) == "null" {
		return nil, nil
	}

	// Results come back either as a JSON string (GET) or a bare value
	// (DEL count, "OK" status). Unquote strings, pass the rest through.
	var str string
	if err := json.Unmarshal(*parsed.Result, &str); err == nil {
		return &str, nil
	}
	out := string(*parsed.Result)
	return &out, nil
}
