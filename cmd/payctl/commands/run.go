package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/payrun"
	"github.com/openfroyo/payroll/pkg/webhook"
)

// jobOutput is the printed outcome of a payrun job.
type jobOutput struct {
	Job           *engine.PayrunJob       `json:"job" yaml:"job"`
	Results       []*engine.PayrollResult `json:"results" yaml:"results"`
	RetroRequests []engine.RetroRequest   `json:"retroRequests,omitempty" yaml:"retroRequests,omitempty"`
	RuntimeValues map[string]any          `json:"runtimeValues,omitempty" yaml:"runtimeValues,omitempty"`
}

func newRunCommand() *cobra.Command {
	var (
		tenant     string
		payrunName string
		period     string
		evaluation string
		regulation string
		forecast   string
		retroMode  string
		employees  []string
		reason     string
		tags       []string
		bundles    []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a payrun job",
		Long: `Run a payrun job for one payroll period.

The regulations of the payroll are derived at the regulation date and every
active employee of the payroll division is evaluated. The job and its
results are printed; with --db they are stored in the database.`,
		Example: `  # Compute March 2024 from the bundle directory
  payctl run --tenant acme --payrun Monthly --period 2024-03

  # Forecast two employees against the database
  payctl run --db payroll.db -t acme -r Monthly --period 2024-06 --forecast budget --employee E1 --employee E2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			store, err := env.openStore(ctx, bundles)
			if err != nil {
				return err
			}
			defer closeStore(env, store)

			periodDate, err := parseDate(period, time.Now().UTC())
			if err != nil {
				return err
			}
			evaluationDate, err := parseDate(evaluation, time.Time{})
			if err != nil {
				return err
			}
			regulationDate, err := parseDate(regulation, time.Time{})
			if err != nil {
				return err
			}

			t, err := store.GetTenantByIdentifier(ctx, tenant)
			if err != nil {
				return err
			}
			ids, err := employeeIDs(ctx, store, t.ID, employees)
			if err != nil {
				return err
			}

			regulations, calendars, err := env.resolvers(ctx, store)
			if err != nil {
				return err
			}
			host, err := env.scriptHost(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = host.Close(ctx) }()

			webhooks := webhook.NewDispatcher(env.cfg.Webhooks, env.logger)
			defer webhooks.Close()

			proc := payrun.NewProcessor(payrun.Dependencies{
				Tenants:     store,
				Divisions:   store,
				Employees:   store,
				Payrolls:    store,
				CaseValues:  store,
				Jobs:        store,
				Results:     store,
				Regulations: regulations,
				Calendars:   calendars,
				Invoker:     host,
				Webhooks:    webhooks,
				Logs:        store,
				Tasks:       store,
				Metrics:     env.telemetry.Metrics,
				Tracer:      env.telemetry.Tracer,
			}, env.cfg.Payrun, env.logger)

			result, err := proc.Run(ctx, payrun.JobRequest{
				TenantID:       t.ID,
				PayrunName:     payrunName,
				PeriodDate:     periodDate,
				EvaluationDate: evaluationDate,
				RegulationDate: regulationDate,
				Forecast:       forecast,
				RetroPayMode:   engine.RetroPayMode(retroMode),
				EmployeeIDs:    ids,
				Reason:         reason,
				Tags:           tags,
			})
			if err != nil {
				return err
			}
			return printResult(cmd, jobOutput{
				Job:           result.Job,
				Results:       result.Results,
				RetroRequests: result.RetroRequests,
				RuntimeValues: result.RuntimeValues,
			})
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant identifier")
	cmd.Flags().StringVarP(&payrunName, "payrun", "r", "", "payrun name")
	cmd.Flags().StringVar(&period, "period", "", "a date inside the payroll period (default now)")
	cmd.Flags().StringVar(&evaluation, "evaluation-date", "", "evaluation date (default now)")
	cmd.Flags().StringVar(&regulation, "regulation-date", "", "regulation date (default the evaluation date)")
	cmd.Flags().StringVar(&forecast, "forecast", "", "forecast name, runs a forecast job")
	cmd.Flags().StringVar(&retroMode, "retro-pay-mode", "", "retro pay mode (None, ValueChange)")
	cmd.Flags().StringSliceVarP(&employees, "employee", "e", nil, "employee identifiers (default all active)")
	cmd.Flags().StringVar(&reason, "reason", "", "job reason")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "job tags")
	cmd.Flags().StringSliceVarP(&bundles, "bundles", "b", nil, "bundle files or directories (default the configured bundle dir)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("payrun")

	return cmd
}
