package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate regulation bundles",
		Long: `Validate regulation bundle files against the bundle schema.

This command checks:
  - YAML, JSON and CUE syntax
  - Schema conformance of every object
  - Name references between tenants, divisions, regulations and payrolls
  - Case value formats and periods`,
		Example: `  # Validate the configured bundle directory
  payctl validate

  # Validate specific files
  payctl validate regulations/acme.yaml regulations/swiss.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close(cmd.Context())

			sources := args
			if len(sources) == 0 {
				sources = []string{env.cfg.Regulations.BundleDir}
			}
			env.logger.Info().Strs("sources", sources).Msg("Validating bundles")

			parsed, err := config.NewParser().Parse(cmd.Context(), sources)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printResult(cmd, parsed.Errors); err != nil {
					return err
				}
			} else {
				for _, v := range parsed.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", v.Severity, v.String())
				}
			}
			if parsed.HasErrors() {
				return parsed.Err()
			}
			env.logger.Info().
				Int("tenants", len(parsed.Bundles)).
				Int("files", len(parsed.SourceFiles)).
				Msg("Bundles are valid")
			return nil
		},
	}
	return cmd
}
