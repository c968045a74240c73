package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X bitespeed/internal/cli.Version=...".
var Version = "1.0.0"

// NewRootCmd creates the root bitespeed command with all subcommands registered.
// Running it without a subcommand starts the server.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bitespeed",
		Short:         "Bitespeed identity reconciliation service",
		Long:          "Links customer contact fragments (email, phone number) into consolidated identities.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newIdentifyCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "bitespeed %s\n", Version)
			return err
		},
	}
}
