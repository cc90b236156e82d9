package regulation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Resolver builds derivations of payrolls from the regulation repository.
type Resolver struct {
	regulations engine.RegulationRepository
	tenants     engine.TenantRepository
	shares      engine.ShareAuthorizer
	logger      zerolog.Logger
}

// NewResolver creates a resolver. A nil share authorizer rejects every
// cross tenant layer.
func NewResolver(regulations engine.RegulationRepository, tenants engine.TenantRepository, shares engine.ShareAuthorizer, logger zerolog.Logger) *Resolver {
	return &Resolver{
		regulations: regulations,
		tenants:     tenants,
		shares:      shares,
		logger:      logger.With().Str("component", "regulation-resolver").Logger(),
	}
}

// Layers loads the regulations of the payroll layers, sorted most overriding first.
func (r *Resolver) Layers(ctx context.Context, payroll *engine.Payroll, opts Options) ([]Layer, error) {
	if payroll == nil {
		return nil, engine.NewContractError("payroll is required", nil).WithCode(engine.ErrCodeValidation)
	}

	layers := make([]Layer, 0, len(payroll.Layers))
	for _, pl := range payroll.Layers {
		reg, err := r.layerRegulation(ctx, payroll, pl, opts)
		if err != nil {
			return nil, err
		}
		objects, err := r.regulations.GetRegulationObjects(ctx, reg.TenantID, reg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load objects of regulation %s: %w", reg.Name, err)
		}
		layers = append(layers, Layer{
			Level:      pl.Level,
			Priority:   pl.Priority,
			Regulation: reg,
			Objects:    objects,
		})
	}

	SortLayers(layers)
	return layers, nil
}

func (r *Resolver) layerRegulation(ctx context.Context, payroll *engine.Payroll, pl engine.PayrollLayer, opts Options) (*engine.Regulation, error) {
	if pl.RegulationTenant == "" {
		reg, err := r.regulations.GetRegulationByName(ctx, payroll.TenantID, pl.RegulationName)
		if err != nil {
			return nil, fmt.Errorf("failed to load regulation %s: %w", pl.RegulationName, err)
		}
		return reg, nil
	}

	provider, err := r.tenants.GetTenantByIdentifier(ctx, pl.RegulationTenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider tenant %s: %w", pl.RegulationTenant, err)
	}
	reg, err := r.regulations.GetRegulationByName(ctx, provider.ID, pl.RegulationName)
	if err != nil {
		return nil, fmt.Errorf("failed to load shared regulation %s: %w", pl.RegulationName, err)
	}
	if provider.ID == payroll.TenantID {
		return reg, nil
	}

	if err := r.authorize(ctx, payroll, reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Resolver) authorize(ctx context.Context, payroll *engine.Payroll, reg *engine.Regulation, opts Options) error {
	denied := engine.NewDomainError(fmt.Sprintf("regulation %s is not shared with tenant %d", reg.Name, payroll.TenantID), nil).
		WithCode(engine.ErrCodeAccessDenied)
	if r.shares == nil {
		return denied
	}

	shares, err := r.regulations.ListRegulationShares(ctx, reg.TenantID, reg.ID)
	if err != nil {
		return fmt.Errorf("failed to list shares of regulation %s: %w", reg.Name, err)
	}
	allowed, err := r.shares.AuthorizeShare(ctx, engine.ShareRequest{
		Regulation:         reg,
		Shares:             shares,
		ConsumerTenantID:   payroll.TenantID,
		ConsumerDivisionID: payroll.DivisionID,
		RegulationDate:     opts.RegulationDate,
	})
	if err != nil {
		return fmt.Errorf("failed to authorize regulation share %s: %w", reg.Name, err)
	}
	if !allowed {
		r.logger.Warn().
			Str("regulation", reg.Name).
			Int64("consumer_tenant", payroll.TenantID).
			Msg("Regulation share denied")
		return denied
	}
	return nil
}

// Derive resolves every object kind of the payroll. The payroll cluster set
// applies unless the options carry one.
func (r *Resolver) Derive(ctx context.Context, payroll *engine.Payroll, opts Options) (*Derivation, error) {
	if opts.ClusterSet == nil {
		opts.ClusterSet = payroll.ClusterSet
	}
	layers, err := r.Layers(ctx, payroll, opts)
	if err != nil {
		return nil, err
	}

	d := NewDerivation(layers, opts)
	r.logger.Debug().
		Str("payroll", payroll.Name).
		Int("layers", len(layers)).
		Int("wage_types", len(d.wageTypes)).
		Int("collectors", len(d.collectors)).
		Time("regulation_date", opts.RegulationDate).
		Msg("Derived payroll regulations")
	return d, nil
}

// Derivation is the resolved regulation view of a payroll as of a date.
// It is immutable and safe for concurrent use.
type Derivation struct {
	layers        []Layer
	opts          Options
	cases         []Derived[*engine.Case]
	caseFields    []Derived[*engine.CaseField]
	caseRelations []Derived[*engine.CaseRelation]
	collectors    []Derived[*engine.Collector]
	wageTypes     []Derived[*engine.WageType]
	lookups       []Derived[*engine.Lookup]
	reports       []Derived[*engine.Report]
	scripts       []Derived[*engine.Script]
}

// NewDerivation resolves all kinds of the given layers.
func NewDerivation(layers []Layer, opts Options) *Derivation {
	SortLayers(layers)
	d := &Derivation{
		layers:        layers,
		opts:          opts,
		cases:         Resolve(layers, func(o *engine.RegulationObjects) []*engine.Case { return o.Cases }, opts),
		caseFields:    Resolve(layers, func(o *engine.RegulationObjects) []*engine.CaseField { return o.CaseFields }, opts),
		caseRelations: Resolve(layers, func(o *engine.RegulationObjects) []*engine.CaseRelation { return o.CaseRelations }, opts),
		collectors:    Resolve(layers, func(o *engine.RegulationObjects) []*engine.Collector { return o.Collectors }, opts),
		wageTypes:     Resolve(layers, func(o *engine.RegulationObjects) []*engine.WageType { return o.WageTypes }, opts),
		lookups:       Resolve(layers, func(o *engine.RegulationObjects) []*engine.Lookup { return o.Lookups }, opts),
		reports:       Resolve(layers, func(o *engine.RegulationObjects) []*engine.Report { return o.Reports }, opts),
		scripts:       Resolve(layers, func(o *engine.RegulationObjects) []*engine.Script { return o.Scripts }, opts),
	}
	sort.SliceStable(d.wageTypes, func(i, j int) bool {
		return d.wageTypes[i].Object.WageTypeNumber.LessThan(d.wageTypes[j].Object.WageTypeNumber)
	})
	return d
}

// Layers returns the sorted layers.
func (d *Derivation) Layers() []Layer { return d.layers }

// Options returns the resolution options.
func (d *Derivation) Options() Options { return d.opts }

func (d *Derivation) Cases() []Derived[*engine.Case]                 { return d.cases }
func (d *Derivation) CaseFields() []Derived[*engine.CaseField]       { return d.caseFields }
func (d *Derivation) CaseRelations() []Derived[*engine.CaseRelation] { return d.caseRelations }
func (d *Derivation) Collectors() []Derived[*engine.Collector]       { return d.collectors }
func (d *Derivation) Lookups() []Derived[*engine.Lookup]             { return d.lookups }
func (d *Derivation) Reports() []Derived[*engine.Report]             { return d.reports }
func (d *Derivation) Scripts() []Derived[*engine.Script]             { return d.scripts }

// WageTypes returns the wage types in wage type number order.
func (d *Derivation) WageTypes() []Derived[*engine.WageType] { return d.wageTypes }

// Case returns the derived case by name.
func (d *Derivation) Case(name string) (Derived[*engine.Case], bool) {
	return find(d.cases, name)
}

// CaseField returns the derived case field by name.
func (d *Derivation) CaseField(name string) (Derived[*engine.CaseField], bool) {
	return find(d.caseFields, name)
}

// Collector returns the derived collector by name.
func (d *Derivation) Collector(name string) (Derived[*engine.Collector], bool) {
	return find(d.collectors, name)
}

// WageType returns the derived wage type by number.
func (d *Derivation) WageType(number decimal.Decimal) (Derived[*engine.WageType], bool) {
	return find(d.wageTypes, number.String())
}

// Lookup returns the derived lookup by name.
func (d *Derivation) Lookup(name string) (Derived[*engine.Lookup], bool) {
	return find(d.lookups, name)
}

// Report returns the derived report by name.
func (d *Derivation) Report(name string) (Derived[*engine.Report], bool) {
	return find(d.reports, name)
}

// Script returns the derived script library by name when it supports the function type.
func (d *Derivation) Script(name string, functionType engine.FunctionType) (*engine.Script, bool) {
	s, ok := find(d.scripts, name)
	if !ok || !s.Object.Supports(functionType) {
		return nil, false
	}
	return s.Object, true
}

// CaseFieldsOf returns the derived fields of a case in name order.
func (d *Derivation) CaseFieldsOf(caseName string) []*engine.CaseField {
	var fields []*engine.CaseField
	for _, f := range d.caseFields {
		if f.Object.CaseName == caseName {
			fields = append(fields, f.Object)
		}
	}
	return fields
}

func find[T engine.Derivable](items []Derived[T], key string) (Derived[T], bool) {
	for _, item := range items {
		if item.Key() == key {
			return item, true
		}
	}
	return Derived[T]{}, false
}
