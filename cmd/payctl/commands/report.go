package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/report"
)

func newReportCommand() *cobra.Command {
	var (
		tenant     string
		payroll    string
		reportName string
		period     string
		params     map[string]string
		bundles    []string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build a regulation report",
		Long: `Run the start, build and end scripts of a derived report and print
its parameters and tables. Result queries read completed jobs of the period.`,
		Example: `  payctl report --db payroll.db -t acme -p "Zurich Payroll" --report Wages --period 2024-03 --param Mode=full`,
		Args:    cobra.NoArgs,
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

			now := time.Now().UTC()
			periodDate, err := parseDate(period, now)
			if err != nil {
				return err
			}

			scope, err := loadPayroll(ctx, store, tenant, payroll)
			if err != nil {
				return err
			}
			regulations, calendars, err := env.resolvers(ctx, store)
			if err != nil {
				return err
			}
			derivation, err := regulations.Derive(ctx, scope.payroll, regulation.Options{RegulationDate: now, EvaluationDate: now})
			if err != nil {
				return err
			}
			cal, err := calendars.Calculator(ctx, scope.tenant, scope.division, nil)
			if err != nil {
				return err
			}
			host, err := env.scriptHost(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = host.Close(ctx) }()

			rt := facade.NewRuntime(host, &facade.Context{
				Tenant:         scope.tenant,
				Payroll:        scope.payroll,
				Division:       scope.division,
				Period:         cal.Period(periodDate),
				EvaluationDate: now,
				RegulationDate: now,
				Culture:        calendars.Culture(scope.tenant, scope.division, nil),
				Calendar:       cal,
				Derivation:     derivation,
				Logs:           store,
				Logger:         env.logger,
			})
			result, err := report.NewService(rt, store, store).Execute(ctx, report.Request{
				ReportName: reportName,
				Parameters: params,
			})
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant identifier")
	cmd.Flags().StringVarP(&payroll, "payroll", "p", "", "payroll name")
	cmd.Flags().StringVar(&reportName, "report", "", "report name")
	cmd.Flags().StringVar(&period, "period", "", "a date inside the report period (default now)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "report parameters (name=value)")
	cmd.Flags().StringSliceVarP(&bundles, "bundles", "b", nil, "bundle files or directories (default the configured bundle dir)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("payroll")
	_ = cmd.MarkFlagRequired("report")

	return cmd
}
