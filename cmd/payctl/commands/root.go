package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "payctl",
		Short: "Payroll regulation runtime",
		Long: `payctl loads payroll regulation bundles, derives the effective
regulation objects of a payroll and runs payrun jobs over them.

Regulation objects carry Starlark, CEL or WebAssembly scripts. Bundles are
YAML, JSON or CUE files; a SQLite database keeps jobs and results.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path, read instead of bundles")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newLoadCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newCaseCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
