package commands

import (
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Create or upgrade the database schema",
		Example: `  payctl migrate --db payroll.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close(cmd.Context())

			store, err := env.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(env, store)

			if err := store.HealthCheck(cmd.Context()); err != nil {
				return err
			}
			env.logger.Info().Str("path", env.databaseConfig().Path).Msg("Database schema is up to date")
			return nil
		},
	}
}
