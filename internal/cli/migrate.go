package cli

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the contacts schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.db.Migrate(cmd.Context()); err != nil {
				return err
			}
			e.logger.WithField("driver", e.db.Driver()).Info("schema is up to date")
			return nil
		},
	}
}
