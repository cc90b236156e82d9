package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/config"
)

func newLoadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [path...]",
		Short: "Load regulation bundles into the database",
		Long: `Validate regulation bundles and create their tenants, regulations,
payrolls and case values in the database. Tenants must not exist yet.`,
		Example: `  payctl load --db payroll.db regulations/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			parsed, err := env.parseBundles(ctx, args)
			if err != nil {
				return err
			}
			store, err := env.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer closeStore(env, store)

			applied, err := config.Apply(ctx, store, parsed.Bundles)
			if err != nil {
				return err
			}

			summary := make(map[string]map[string]int, len(applied.Tenants))
			for _, id := range applied.TenantIdentifiers() {
				t := applied.Tenants[id]
				summary[id] = map[string]int{
					"divisions":   len(t.Divisions),
					"employees":   len(t.Employees),
					"regulations": len(t.Regulations),
					"payrolls":    len(t.Payrolls),
					"payruns":     len(t.Payruns),
				}
				env.logger.Info().Str("tenant", id).Int64("id", t.Tenant.ID).Msg("Tenant loaded")
			}
			return printResult(cmd, summary)
		},
	}
	return cmd
}
