package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file for problems",
		Long: `Loads the config, resolves the store backend, and prints every advisory
issue (non-positive ceilings, missing messages, a non-persistent store in
production). The server logs the same issues at startup without refusing to
run; this command exits non-zero so CI can catch them early.`,
		Example: `  quotaflow validate --config quotaflow.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			resolved := cfg.Resolve()
			issues := cfg.Problems(resolved.Backend)
			if len(issues) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "config ok (store backend: %s)\n", resolved.Backend)
				return nil
			}

			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", issue)
			}
			return fmt.Errorf("%d configuration issue(s)", len(issues))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")

	return cmd
}
