package store

import (
	"testing"

	"github.com/quotaflow/quotaflow/internal/clock"
)

func clearBackendEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"KV_REST_API_URL", "KV_REST_API_TOKEN",
		"REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
	} {
		t.Setenv(k, "")
	}
}

func TestConfigFromEnv_PrefersRESTKV(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("KV_REST_API_URL", "https://kv.example.com")
	t.Setenv("KV_REST_API_TOKEN", "tok")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendRESTKV {
		t.Fatalf("Backend = %q, want %q", cfg.Backend, BackendRESTKV)
	}
	if cfg.RESTKV.URL != "https://kv.example.com" || cfg.RESTKV.Token != "tok" {
		t.Errorf("RESTKV config = %+v", cfg.RESTKV)
	}
}

func TestConfigFromEnv_RESTKVRequiresBothCredentials(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("KV_REST_API_URL", "https://kv.example.com")

	cfg := ConfigFromEnv()
	if cfg.Backend == BackendRESTKV {
		t.Fatal("REST KV selected without a token")
	}
}

func TestConfigFromEnv_RedisURL(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("REDIS_URL", "redis://:secret@redis.internal:6380/1")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendRedis {
		t.Fatalf("Backend = %q, want %q", cfg.Backend, BackendRedis)
	}
	if cfg.Redis.URL == "" {
		t.Error("Redis URL not carried through")
	}
}

func TestConfigFromEnv_RedisHostPort(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_PASSWORD", "secret")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendRedis {
		t.Fatalf("Backend = %q, want %q", cfg.Backend, BackendRedis)
	}
	if cfg.Redis.Host != "redis.internal" || cfg.Redis.Port != 6380 || cfg.Redis.Password != "secret" {
		t.Errorf("Redis config = %+v", cfg.Redis)
	}
}

func TestConfigFromEnv_DefaultsToMemory(t *testing.T) {
	clearBackendEnv(t)

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendMemory {
		t.Fatalf("Backend = %q, want %q", cfg.Backend, BackendMemory)
	}
}

func TestNew_Memory(t *testing.T) {
	s, err := New(Config{Backend: BackendMemory}, clock.NewRealClock())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("New() = %T, want *MemoryStore", s)
	}
}

func TestNew_EmptyBackendMeansMemory(t *testing.T) {
	s, err := New(Config{}, clock.NewRealClock())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("New() = %T, want *MemoryStore", s)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "dynamo"}, clock.NewRealClock()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
