package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/audit"
	"github.com/quotaflow/quotaflow/internal/clock"
	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/limiter"
	"github.com/quotaflow/quotaflow/internal/server"
	"github.com/quotaflow/quotaflow/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		addr        string
		auditPath   string
		storageOpts storageOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rate limit server",
		Long: `Starts the HTTP server exposing the configured limiters.

Endpoints:
  GET    /                           Server info
  GET    /health                     Health check
  GET    /api/limits                 Configured categories and ceilings
  GET    /api/limits/{cat}/status    Current window state, no increment
  DELETE /api/limits/{cat}           Clear a client's window (admin override)
  GET    /api/check/{cat}            Count a request and return the decision
  WS     /ws                         Live decision feed`,
		Example: `  quotaflow serve
  quotaflow serve --addr :9090 --store redis --redis-host redis.internal
  quotaflow serve --config quotaflow.json --audit denied.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if err := storageOpts.apply(cmd, &cfg); err != nil {
				return err
			}

			logger, err := newLogger(cfg.Environment)
			if err != nil {
				return err
			}
			defer logger.Sync()

			clk := clock.NewRealClock()

			storeCfg := cfg.Resolve()
			st, err := store.New(storeCfg, clk)
			if err != nil {
				return fmt.Errorf("building store: %w", err)
			}
			defer st.Close()
			logger.Info("store selected", zap.String("backend", storeCfg.Backend))

			for _, issue := range cfg.Problems(storeCfg.Backend) {
				logger.Warn("configuration issue", zap.String("issue", issue))
			}

			var trail *audit.Trail
			if auditPath != "" {
				trail, err = audit.Open(auditPath)
				if err != nil {
					return err
				}
				defer trail.Close()
			}

			limiters, err := buildLimiters(cfg, st, clk, logger, trail)
			if err != nil {
				return err
			}

			srv := server.New(cfg.Server.Addr, limiters, clk, server.Options{
				Hub:    server.NewHub(logger),
				Logger: logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
				if err := <-errCh; err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&auditPath, "audit", "", "append denied requests to this JSONL file")
	storageOpts.addFlags(cmd)

	return cmd
}

// buildLimiters constructs one limiter per configured category, wiring the
// denial callback to the logger and the audit trail.
func buildLimiters(
	cfg config.Config,
	st store.Store,
	clk clock.Clock,
	logger *zap.Logger,
	trail *audit.Trail,
) (map[string]*limiter.Limiter, error) {
	limiters := make(map[string]*limiter.Limiter, len(cfg.Limiters))

	for name, lc := range cfg.Limiters {
		lc.OnLimitReached = func(r *http.Request, res limiter.Result) {
			key := limiter.DefaultKeyFunc(r)
			logger.Warn("rate limit exceeded",
				zap.String("category", name),
				zap.String("key", key),
				zap.String("path", r.URL.Path))
			if trail != nil {
				if err := trail.Record(audit.Event{
					Time:     clk.Now(),
					Category: name,
					Key:      key,
					Method:   r.Method,
					Path:     r.URL.Path,
					Limit:    res.Limit,
				}); err != nil {
					logger.Warn("recording audit event", zap.Error(err))
				}
			}
		}

		lim, err := limiter.New(name, lc, st, clk, logger)
		if err != nil {
			return nil, fmt.Errorf("building %s limiter: %w", name, err)
		}
		limiters[name] = lim
	}

	return limiters, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
