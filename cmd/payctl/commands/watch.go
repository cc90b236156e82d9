package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/config"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/payrun"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

func newWatchCommand() *cobra.Command {
	var (
		tenant     string
		payrunName string
		period     string
		metrics    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload regulation bundles and policies on change",
		Long: `Load the bundle and policy directories and reload them whenever a file
changes. A reload that fails validation keeps the previous regulations.

With --tenant and --payrun the payrun is computed after every reload, a
quick way to see the effect of a regulation edit.`,
		Example: `  # Watch the configured directories and serve metrics
  payctl watch --metrics

  # Recompute March 2024 on every change
  payctl watch -t acme -r Monthly --period 2024-03`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			periodDate, err := parseDate(period, time.Now().UTC())
			if err != nil {
				return err
			}
			if metrics {
				env.telemetry.StartMetricsServer()
			}

			host, err := env.scriptHost(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = host.Close(ctx) }()
			policies, err := env.policies(ctx)
			if err != nil {
				return err
			}

			catalog := config.NewCatalog(env.cfg.Regulations, policies, host, env.logger)
			if err := catalog.Load(ctx); err != nil {
				return err
			}

			preview := func(ctx context.Context) {
				if tenant == "" || payrunName == "" {
					return
				}
				if err := previewPayrun(ctx, cmd, env, catalog.Snapshot(), host, policies, tenant, payrunName, periodDate); err != nil {
					env.logger.Error().Err(err).Msg("Payrun preview failed")
				}
			}
			preview(ctx)

			watcher := config.NewWatcher(env.cfg.Regulations, env.logger, func(ctx context.Context, change config.Change) {
				catalog.Handle(ctx, change)
				preview(ctx)
			})
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()

			<-ctx.Done()
			env.logger.Info().Msg("Stopped watching regulations")
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant of the payrun preview")
	cmd.Flags().StringVarP(&payrunName, "payrun", "r", "", "payrun to compute after each reload")
	cmd.Flags().StringVar(&period, "period", "", "a date inside the preview period (default now)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics")

	return cmd
}

// previewPayrun computes a payrun on the snapshot store and prints it.
func previewPayrun(ctx context.Context, cmd *cobra.Command, env *environment, snapshot *config.Snapshot, host *scripting.Host, shares engine.ShareAuthorizer, tenant, payrunName string, periodDate time.Time) error {
	store := snapshot.Store
	t, err := store.GetTenantByIdentifier(ctx, tenant)
	if err != nil {
		return err
	}
	proc := payrun.NewProcessor(payrun.Dependencies{
		Tenants:     store,
		Divisions:   store,
		Employees:   store,
		Payrolls:    store,
		CaseValues:  store,
		Jobs:        store,
		Results:     store,
		Regulations: regulation.NewResolver(store, store, shares, env.logger),
		Calendars:   calendar.NewResolver(store, defaultCalendar),
		Invoker:     host,
		Logs:        store,
		Tasks:       store,
		Metrics:     env.telemetry.Metrics,
		Tracer:      env.telemetry.Tracer,
	}, env.cfg.Payrun, env.logger)

	result, err := proc.Run(ctx, payrun.JobRequest{
		TenantID:   t.ID,
		PayrunName: payrunName,
		PeriodDate: periodDate,
		Reason:     "preview of regulation version",
		Tags:       []string{"preview"},
	})
	if err != nil {
		return err
	}
	env.logger.Info().
		Int("version", snapshot.Version).
		Int("employees", len(result.Results)).
		Str("status", string(result.Job.JobStatus)).
		Msg("Payrun preview computed")
	return printResult(cmd, jobOutput{
		Job:           result.Job,
		Results:       result.Results,
		RetroRequests: result.RetroRequests,
		RuntimeValues: result.RuntimeValues,
	})
}
