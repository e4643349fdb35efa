package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root quotaflow command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quotaflow",
		Short: "Fixed-window rate limiting with pluggable stores",
		Long: `Quotaflow admits or denies requests against per-category fixed windows
(auth, api, upload, password_reset, email_verification), backed by an
in-memory map, Redis, or a Redis-over-REST service such as Vercel KV.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newValidateCmd(),
		newInitCmd(),
	)

	return root
}
