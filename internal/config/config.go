package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/quotaflow/quotaflow/internal/limiter"
	"github.com/quotaflow/quotaflow/internal/store"
)

// Config is the top-level configuration.
type Config struct {
	Server      ServerConfig
	Environment string
	Store       StoreConfig
	Limiters    map[string]limiter.Config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string
}

// StoreConfig selects the counter backend. Backend "auto" (the default)
// resolves from the environment at startup: REST KV, then Redis, then memory.
type StoreConfig struct {
	Backend string
	Redis   store.RedisConfig
	RESTKV  store.RESTKVConfig
}

// BackendAuto defers backend selection to environment probing.
const BackendAuto = "auto"

// Default returns the baseline configuration: every preset limiter category,
// auto store selection, and the environment taken from APP_ENV.
func Default() Config {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	return Config{
		Server:      ServerConfig{Addr: ":8080"},
		Environment: env,
		Store:       StoreConfig{Backend: BackendAuto},
		Limiters:    limiter.Presets(),
	}
}

// Resolve returns the concrete store config this Config selects, probing the
// environment when the backend is auto.
func (c Config) Resolve() store.Config {
	switch c.Store.Backend {
	case BackendAuto, "":
		return store.ConfigFromEnv()
	case store.BackendRedis:
		rc := c.Store.Redis
		return store.Config{Backend: store.BackendRedis, Redis: &rc}
	case store.BackendRESTKV:
		kc := c.Store.RESTKV
		return store.Config{Backend: store.BackendRESTKV, RESTKV: &kc}
	default:
		return store.Config{Backend: c.Store.Backend}
	}
}

// Problems reports advisory configuration issues: non-positive ceilings or
// windows, missing rejection messages, and a non-persistent store in a
// production environment. Issues are meant to be logged at startup; none of
// them block requests.
func (c Config) Problems(resolvedBackend string) []string {
	var issues []string

	names := make([]string, 0, len(c.Limiters))
	for name := range c.Limiters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := c.Limiters[name]
		if cfg.Max <= 0 {
			issues = append(issues, fmt.Sprintf("limiter %q: max must be positive, got %d", name, cfg.Max))
		}
		if cfg.Window <= 0 {
			issues = append(issues, fmt.Sprintf("limiter %q: window must be positive, got %s", name, cfg.Window))
		}
		if cfg.Message == "" {
			issues = append(issues, fmt.Sprintf("limiter %q: message is empty, clients will see a generic rejection", name))
		}
	}

	if c.Environment == "production" && resolvedBackend == store.BackendMemory {
		issues = append(issues,
			"production environment is using the in-memory store: counters reset on restart and are not shared across instances")
	}

	return issues
}

// LoadFile reads a JSON config file and merges it over Default(). Fields not
// present in the file keep their default values; limiter entries override
// per field, so a file can raise one category's ceiling without restating
// the rest.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if raw.Environment != "" {
		cfg.Environment = raw.Environment
	}
	if raw.Store.Backend != "" {
		cfg.Store.Backend = raw.Store.Backend
	}
	if raw.Store.Redis.Host != "" {
		cfg.Store.Redis.Host = raw.Store.Redis.Host
	}
	if raw.Store.Redis.Port > 0 {
		cfg.Store.Redis.Port = raw.Store.Redis.Port
	}
	if raw.Store.Redis.Password != "" {
		cfg.Store.Redis.Password = raw.Store.Redis.Password
	}
	if raw.Store.Redis.URL != "" {
		cfg.Store.Redis.URL = raw.Store.Redis.URL
	}
	if raw.Store.RESTKV.URL != "" {
		cfg.Store.RESTKV.URL = raw.Store.RESTKV.URL
	}
	if raw.Store.RESTKV.Token != "" {
		cfg.Store.RESTKV.Token = raw.Store.RESTKV.Token
	}

	for name, rl := range raw.Limiters {
		base := cfg.Limiters[name]
		if rl.Window != "" {
			d, err := time.ParseDuration(rl.Window)
			if err != nil {
				return cfg, fmt.Errorf("parsing limiters.%s.window: %w", name, err)
			}
			base.Window = d
		}
		if rl.Max > 0 {
			base.Max = rl.Max
		}
		if rl.Message != "" {
			base.Message = rl.Message
		}
		if rl.StandardHeaders != nil {
			base.StandardHeaders = *rl.StandardHeaders
		}
		if rl.LegacyHeaders != nil {
			base.LegacyHeaders = *rl.LegacyHeaders
		}
		cfg.Limiters[name] = base
	}

	return cfg, nil
}

// rawConfig is the JSON-friendly representation with string durations and
// optional booleans.
type rawConfig struct {
	Server struct {
		Addr string `json:"addr"`
	} `json:"server"`
	Environment string `json:"environment"`
	Store       struct {
		Backend string `json:"backend"`
		Redis   struct {
			URL      string `json:"url"`
			Host     string `json:"host"`
			Port     int    `json:"port"`
			Password string `json:"password"`
		} `json:"redis"`
		RESTKV struct {
			URL   string `json:"url"`
			Token string `json:"token"`
		} `json:"restKv"`
	} `json:"store"`
	Limiters map[string]rawLimiter `json:"limiters"`
}

type rawLimiter struct {
	Window          string `json:"window"`
	Max             int    `json:"max"`
	Message         string `json:"message"`
	StandardHeaders *bool  `json:"standardHeaders"`
	LegacyHeaders   *bool  `json:"legacyHeaders"`
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `{
  "server": {
    "addr": ":8080"
  },
  "environment": "development",
  "store": {
    "backend": "auto",
    "redis": {
      "host": "localhost",
      "port": 6379
    }
  },
  "limiters": {
    "auth": {
      "window": "15m",
      "max": 5,
      "message": "Too many authentication attempts, please try again later."
    },
    "api": {
      "window": "15m",
      "max": 100
    }
  }
}
`
	return os.WriteFile(path, []byte(example), 0o644)
}
