package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotaflow/quotaflow/internal/config"
)

type storageOptions struct {
	backend       string
	redisURL      string
	redisHost     string
	redisPort     int
	redisPassword string
	kvURL         string
	kvToken       string
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "store", config.BackendAuto, "store backend (auto, memory, redis, restkv)")
	cmd.Flags().StringVar(&o.redisURL, "redis-url", "", "redis connection URL (redis:// or rediss://)")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", "", "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().StringVar(&o.kvURL, "kv-url", "", "REST KV endpoint URL")
	cmd.Flags().StringVar(&o.kvToken, "kv-token", "", "REST KV bearer token")
}

// apply overlays flags the user actually set onto cfg.
func (o *storageOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("store") {
		cfg.Store.Backend = o.backend
	}
	if cmd.Flags().Changed("redis-url") {
		cfg.Store.Redis.URL = o.redisURL
	}
	if cmd.Flags().Changed("redis-host") {
		host, port, err := splitRedisHostPort(o.redisHost, o.redisPort)
		if err != nil {
			return err
		}
		cfg.Store.Redis.Host = host
		cfg.Store.Redis.Port = port
	} else if cmd.Flags().Changed("redis-port") {
		cfg.Store.Redis.Port = o.redisPort
	}
	if cmd.Flags().Changed("redis-password") {
		cfg.Store.Redis.Password = o.redisPassword
	}
	if cmd.Flags().Changed("kv-url") {
		cfg.Store.RESTKV.URL = o.kvURL
	}
	if cmd.Flags().Changed("kv-token") {
		cfg.Store.RESTKV.Token = o.kvToken
	}
	return nil
}

func splitRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}
	return host, port, nil
}
