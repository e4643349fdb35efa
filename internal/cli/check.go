package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/clock"
	"github.com/quotaflow/quotaflow/internal/limiter"
	"github.com/quotaflow/quotaflow/internal/store"
)

func newCheckCmd() *cobra.Command {
	var (
		configPath  string
		category    string
		status      bool
		clear       bool
		storageOpts storageOptions
	)

	cmd := &cobra.Command{
		Use:   "check <key>",
		Short: "Run a one-off rate limit operation against the configured store",
		Long: `Counts one request for <key> against the chosen category and prints the
decision as JSON. With --status the current window is read without counting;
with --clear the window entry is deleted.`,
		Example: `  quotaflow check 203.0.113.7 --category auth
  quotaflow check user-42 --category password_reset --status
  quotaflow check 203.0.113.7 --category auth --clear --store redis --redis-host localhost`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := storageOpts.apply(cmd, &cfg); err != nil {
				return err
			}

			lc, ok := cfg.Limiters[category]
			if !ok {
				return fmt.Errorf("unknown category %q, must be one of %v", category, limiter.Categories())
			}

			clk := clock.NewRealClock()
			st, err := store.New(cfg.Resolve(), clk)
			if err != nil {
				return fmt.Errorf("building store: %w", err)
			}
			defer st.Close()

			lim, err := limiter.New(category, lc, st, clk, zap.NewNop())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if clear {
				if err := lim.ClearKey(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s limit for %q\n", category, key)
				return nil
			}

			var res limiter.Result
			if status {
				res = lim.StatusKey(ctx, key)
			} else {
				res = lim.CheckKey(ctx, key)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Allowed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")
	cmd.Flags().StringVar(&category, "category", limiter.CategoryAPI, "limiter category")
	cmd.Flags().BoolVar(&status, "status", false, "read the current window without counting")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete the window entry for the key")
	storageOpts.addFlags(cmd)

	return cmd
}
