package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/regulation"
)

type resolvedLayer struct {
	Level      int    `json:"level" yaml:"level"`
	Priority   int    `json:"priority" yaml:"priority"`
	Regulation string `json:"regulation" yaml:"regulation"`
}

type resolvedObject struct {
	Kind       engine.ObjectKind `json:"kind" yaml:"kind"`
	Key        string            `json:"key" yaml:"key"`
	Regulation string            `json:"regulation" yaml:"regulation"`

	// Overrides lists the regulations of the hidden versions, top down.
	Overrides []string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

type resolution struct {
	Tenant         string           `json:"tenant" yaml:"tenant"`
	Payroll        string           `json:"payroll" yaml:"payroll"`
	RegulationDate time.Time        `json:"regulationDate" yaml:"regulationDate"`
	Layers         []resolvedLayer  `json:"layers" yaml:"layers"`
	Objects        []resolvedObject `json:"objects" yaml:"objects"`
}

func newResolveCommand() *cobra.Command {
	var (
		tenant  string
		payroll string
		date    string
		names   []string
		include []string
		exclude []string
		bundles []string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the derived regulation objects of a payroll",
		Long: `Resolve the regulation layers of a payroll and print the effective
object per key with the regulation it comes from and the versions it hides.`,
		Example: `  # Objects effective today
  payctl resolve --tenant acme --payroll "Zurich Payroll"

  # Objects as of a regulation date, restricted to two keys
  payctl resolve --tenant acme --payroll "Zurich Payroll" --date 2023-01-01 --name 100 --name Gross`,
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

			// Defaults are taken once the bundle objects are stamped.
			regulationDate, err := parseDate(date, time.Now().UTC())
			if err != nil {
				return err
			}

			scope, err := loadPayroll(ctx, store, tenant, payroll)
			if err != nil {
				return err
			}
			regulations, _, err := env.resolvers(ctx, store)
			if err != nil {
				return err
			}

			opts := regulation.Options{RegulationDate: regulationDate, EvaluationDate: regulationDate, Names: names}
			if len(include) > 0 || len(exclude) > 0 {
				opts.ClusterSet = &engine.ClusterSet{IncludeClusters: include, ExcludeClusters: exclude}
			}
			derivation, err := regulations.Derive(ctx, scope.payroll, opts)
			if err != nil {
				return err
			}
			return printResult(cmd, describe(scope.tenant, scope.payroll, regulationDate, derivation))
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant identifier")
	cmd.Flags().StringVarP(&payroll, "payroll", "p", "", "payroll name")
	cmd.Flags().StringVar(&date, "date", "", "regulation date (default now)")
	cmd.Flags().StringSliceVar(&names, "name", nil, "restrict to object keys")
	cmd.Flags().StringSliceVar(&include, "include-cluster", nil, "override the payroll cluster set: clusters to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude-cluster", nil, "override the payroll cluster set: clusters to exclude")
	cmd.Flags().StringSliceVarP(&bundles, "bundles", "b", nil, "bundle files or directories (default the configured bundle dir)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("payroll")

	return cmd
}

func describe(tenant *engine.Tenant, payroll *engine.Payroll, date time.Time, d *regulation.Derivation) *resolution {
	out := &resolution{Tenant: tenant.Identifier, Payroll: payroll.Name, RegulationDate: date}
	names := make(map[int64]string)
	for _, l := range d.Layers() {
		names[l.Regulation.ID] = l.Regulation.Name
		out.Layers = append(out.Layers, resolvedLayer{Level: l.Level, Priority: l.Priority, Regulation: l.Regulation.Name})
	}
	out.Objects = appendResolved(out.Objects, engine.KindCase, d.Cases(), names)
	out.Objects = appendResolved(out.Objects, engine.KindCaseField, d.CaseFields(), names)
	out.Objects = appendResolved(out.Objects, engine.KindCaseRelation, d.CaseRelations(), names)
	out.Objects = appendResolved(out.Objects, engine.KindCollector, d.Collectors(), names)
	out.Objects = appendResolved(out.Objects, engine.KindWageType, d.WageTypes(), names)
	out.Objects = appendResolved(out.Objects, engine.KindLookup, d.Lookups(), names)
	out.Objects = appendResolved(out.Objects, engine.KindReport, d.Reports(), names)
	out.Objects = appendResolved(out.Objects, engine.KindScript, d.Scripts(), names)
	return out
}

func appendResolved[T engine.Derivable](out []resolvedObject, kind engine.ObjectKind, items []regulation.Derived[T], names map[int64]string) []resolvedObject {
	for _, item := range items {
		obj := resolvedObject{
			Kind:       kind,
			Key:        item.Key(),
			Regulation: names[item.Object.Meta().RegulationID],
		}
		for _, hidden := range item.Chain[1:] {
			obj.Overrides = append(obj.Overrides, names[hidden.Meta().RegulationID])
		}
		out = append(out, obj)
	}
	return out
}
