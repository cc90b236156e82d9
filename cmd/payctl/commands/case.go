package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/cases"
	"github.com/openfroyo/payroll/pkg/casevalue"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
)

type caseOutput struct {
	Available bool          `json:"available" yaml:"available"`
	Built     bool          `json:"built" yaml:"built"`
	Issues    []cases.Issue `json:"issues,omitempty" yaml:"issues,omitempty"`
	Set       *cases.Set    `json:"set,omitempty" yaml:"set,omitempty"`
	Applied   int           `json:"applied" yaml:"applied"`
}

func newCaseCommand() *cobra.Command {
	var (
		tenant   string
		payroll  string
		caseName string
		slot     string
		employee string
		fields   map[string]string
		start    string
		end      string
		apply    bool
		bundles  []string
	)

	cmd := &cobra.Command{
		Use:   "case",
		Short: "Build and validate a case change",
		Long: `Prefill a case with the current values, apply the given field values,
then run the build and validate scripts of the case. With --apply a valid
case is stored as new case values.`,
		Example: `  payctl case --db payroll.db -t acme -p "Zurich Payroll" --case Salary \
    --employee E1 --field Salary=5200 --start 2024-04-01 --apply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			startDate, err := parseDate(start, time.Time{})
			if err != nil {
				return err
			}
			endDate, err := parseDate(end, time.Time{})
			if err != nil {
				return err
			}

			store, err := env.openStore(ctx, bundles)
			if err != nil {
				return err
			}
			defer closeStore(env, store)
			now := time.Now().UTC()

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
			derived, ok := derivation.Case(caseName)
			if !ok {
				return engine.NewNotFoundError("case", caseName)
			}
			caseType := derived.Object.CaseType

			var emp *engine.Employee
			tiers := casevalue.CompanyTiers
			switch caseType {
			case engine.CaseTypeEmployee:
				if employee == "" {
					return fmt.Errorf("case %s needs --employee", caseName)
				}
				ids, err := employeeIDs(ctx, store, scope.tenant.ID, []string{employee})
				if err != nil {
					return err
				}
				if emp, err = store.GetEmployee(ctx, scope.tenant.ID, ids[0]); err != nil {
					return err
				}
				tiers = casevalue.EmployeeTiers
			case engine.CaseTypeNational:
				tiers = casevalue.NationalTiers
			case engine.CaseTypeGlobal:
				tiers = casevalue.GlobalTiers
			}

			valueScope := casevalue.Scope{TenantID: scope.tenant.ID, DivisionID: scope.division.ID}
			if emp != nil {
				valueScope.EmployeeID = emp.ID
			}
			cal, err := calendars.Calculator(ctx, scope.tenant, scope.division, emp)
			if err != nil {
				return err
			}
			host, err := env.scriptHost(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = host.Close(ctx) }()

			service := cases.NewService(facade.NewRuntime(host, &facade.Context{
				Tenant:         scope.tenant,
				Payroll:        scope.payroll,
				Division:       scope.division,
				Employee:       emp,
				EvaluationDate: now,
				RegulationDate: now,
				Culture:        calendars.Culture(scope.tenant, scope.division, emp),
				Calendar:       cal,
				Derivation:     derivation,
				CaseValues:     casevalue.NewProvider(store, valueScope, now, tiers...),
				Logs:           store,
				Tasks:          store,
				Logger:         env.logger,
			}))

			out := caseOutput{}
			if out.Available, err = service.Available(ctx, caseName); err != nil {
				return err
			}
			if !out.Available {
				return printResult(cmd, out)
			}

			moment := now
			if !startDate.IsZero() {
				moment = startDate
			}
			set, err := service.NewSet(ctx, caseName, slot, moment)
			if err != nil {
				return err
			}
			if err := applyFields(set, fields, startDate, endDate); err != nil {
				return err
			}
			out.Set = set
			if out.Built, err = service.Build(ctx, set); err != nil {
				return err
			}
			if out.Issues, err = service.Validate(ctx, set); err != nil {
				return err
			}

			if apply && out.Built && len(out.Issues) == 0 {
				values := set.CaseValues(caseType, engine.CaseValue{
					TenantID:   scope.tenant.ID,
					DivisionID: scope.division.ID,
					EmployeeID: valueScope.EmployeeID,
				})
				for _, v := range values {
					if err := store.AddCaseValue(ctx, v); err != nil {
						return err
					}
				}
				out.Applied = len(values)
				env.logger.Info().Str("case", caseName).Int("values", len(values)).Msg("Case values stored")
			}
			if err := printResult(cmd, out); err != nil {
				return err
			}
			if len(out.Issues) > 0 {
				return fmt.Errorf("case %s has %d issues", caseName, len(out.Issues))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant identifier")
	cmd.Flags().StringVarP(&payroll, "payroll", "p", "", "payroll name")
	cmd.Flags().StringVar(&caseName, "case", "", "case name")
	cmd.Flags().StringVar(&slot, "slot", "", "case slot")
	cmd.Flags().StringVarP(&employee, "employee", "e", "", "employee identifier for employee cases")
	cmd.Flags().StringToStringVarP(&fields, "field", "f", nil, "field values (name=value)")
	cmd.Flags().StringVar(&start, "start", "", "start of the entered values")
	cmd.Flags().StringVar(&end, "end", "", "end of the entered values")
	cmd.Flags().BoolVar(&apply, "apply", false, "store the case values when valid")
	cmd.Flags().StringSliceVarP(&bundles, "bundles", "b", nil, "bundle files or directories (default the configured bundle dir)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("payroll")
	_ = cmd.MarkFlagRequired("case")

	return cmd
}

// applyFields writes the entered values into the set. Unknown fields are
// added so validation reports them.
func applyFields(set *cases.Set, fields map[string]string, start, end time.Time) error {
	for name, value := range fields {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("empty field name")
		}
		f, ok := set.Field(name)
		if !ok {
			f = &cases.Field{Name: name}
			set.Fields = append(set.Fields, f)
		}
		f.Value = value
		if !start.IsZero() {
			s := start
			f.Start = &s
		}
		if !end.IsZero() {
			e := end
			f.End = &e
		}
	}
	return nil
}
