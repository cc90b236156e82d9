package config

import (
	"context"
	"fmt"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/stores"
)

// Target receives applied bundles.
type Target interface {
	stores.Writer
	engine.CaseValueRepository
}

// AppliedTenant indexes the created objects of one tenant by name.
type AppliedTenant struct {
	Tenant      *engine.Tenant
	Divisions   map[string]*engine.Division
	Employees   map[string]*engine.Employee
	Regulations map[string]*engine.Regulation
	Payrolls    map[string]*engine.Payroll
	Payruns     map[string]*engine.Payrun
}

// Applied indexes the created tenants by identifier.
type Applied struct {
	Tenants map[string]*AppliedTenant
	order   []string
}

// TenantIdentifiers returns the tenant identifiers in apply order.
func (a *Applied) TenantIdentifiers() []string {
	return append([]string(nil), a.order...)
}

// FindPayrun returns the tenant owning the named payrun. With several
// tenants defining the name the first in apply order wins.
func (a *Applied) FindPayrun(name string) (*AppliedTenant, *engine.Payrun, bool) {
	for _, id := range a.order {
		t := a.Tenants[id]
		if p, ok := t.Payruns[name]; ok {
			return t, p, true
		}
	}
	return nil, nil, false
}

// FindPayroll returns the tenant owning the named payroll.
func (a *Applied) FindPayroll(name string) (*AppliedTenant, *engine.Payroll, bool) {
	for _, id := range a.order {
		t := a.Tenants[id]
		if p, ok := t.Payrolls[name]; ok {
			return t, p, true
		}
	}
	return nil, nil, false
}

// Apply creates the bundle objects in the target. Shares are created last
// so they can reference tenants of any bundle. Bundles must have passed
// parsing without errors.
func Apply(ctx context.Context, target Target, bundles []*Bundle) (*Applied, error) {
	applied := &Applied{Tenants: make(map[string]*AppliedTenant)}
	for _, b := range bundles {
		t, err := applyBundle(ctx, target, b)
		if err != nil {
			return nil, fmt.Errorf("failed to apply tenant %s: %w", b.Tenant.Identifier, err)
		}
		applied.Tenants[t.Tenant.Identifier] = t
		applied.order = append(applied.order, t.Tenant.Identifier)
	}

	for _, b := range bundles {
		provider := applied.Tenants[b.Tenant.Identifier]
		for _, s := range b.Shares {
			share, err := resolveShare(applied, provider, s)
			if err != nil {
				return nil, err
			}
			if err := target.CreateRegulationShare(ctx, share); err != nil {
				return nil, fmt.Errorf("failed to create share of %s: %w", s.Regulation, err)
			}
		}
	}
	return applied, nil
}

func applyBundle(ctx context.Context, target Target, b *Bundle) (*AppliedTenant, error) {
	tenant := b.Tenant
	if err := target.CreateTenant(ctx, &tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	t := &AppliedTenant{
		Tenant:      &tenant,
		Divisions:   make(map[string]*engine.Division),
		Employees:   make(map[string]*engine.Employee),
		Regulations: make(map[string]*engine.Regulation),
		Payrolls:    make(map[string]*engine.Payroll),
		Payruns:     make(map[string]*engine.Payrun),
	}

	for _, c := range b.Calendars {
		cal := *c
		cal.TenantID = tenant.ID
		if err := target.CreateCalendar(ctx, &cal); err != nil {
			return nil, fmt.Errorf("failed to create calendar %s: %w", c.Name, err)
		}
	}
	for _, d := range b.Divisions {
		division := *d
		division.TenantID = tenant.ID
		if err := target.CreateDivision(ctx, &division); err != nil {
			return nil, fmt.Errorf("failed to create division %s: %w", d.Name, err)
		}
		t.Divisions[division.Name] = &division
	}
	for _, e := range b.Employees {
		employee := *e
		employee.TenantID = tenant.ID
		if err := target.CreateEmployee(ctx, &employee); err != nil {
			return nil, fmt.Errorf("failed to create employee %s: %w", e.Identifier, err)
		}
		t.Employees[employee.Identifier] = &employee
	}
	for _, r := range b.Regulations {
		reg := r.Regulation
		reg.TenantID = tenant.ID
		if err := target.CreateRegulation(ctx, &reg); err != nil {
			return nil, fmt.Errorf("failed to create regulation %s: %w", r.Name, err)
		}
		objects := r.Objects
		if err := target.AddRegulationObjects(ctx, reg.ID, &objects); err != nil {
			return nil, fmt.Errorf("failed to add objects of regulation %s: %w", r.Name, err)
		}
		t.Regulations[reg.Name] = &reg
	}
	for _, p := range b.Payrolls {
		division, ok := t.Divisions[p.Division]
		if !ok {
			return nil, engine.NewNotFoundError("division", p.Division)
		}
		payroll := p.Payroll
		payroll.TenantID = tenant.ID
		payroll.DivisionID = division.ID
		if err := target.CreatePayroll(ctx, &payroll); err != nil {
			return nil, fmt.Errorf("failed to create payroll %s: %w", p.Name, err)
		}
		t.Payrolls[payroll.Name] = &payroll
	}
	for _, p := range b.Payruns {
		payroll, ok := t.Payrolls[p.Payroll]
		if !ok {
			return nil, engine.NewNotFoundError("payroll", p.Payroll)
		}
		payrun := p.Payrun
		payrun.TenantID = tenant.ID
		payrun.PayrollID = payroll.ID
		if err := target.CreatePayrun(ctx, &payrun); err != nil {
			return nil, fmt.Errorf("failed to create payrun %s: %w", p.Name, err)
		}
		t.Payruns[payrun.Name] = &payrun
	}
	for _, v := range b.CaseValues {
		value := v.CaseValue
		value.TenantID = tenant.ID
		switch value.Tier {
		case engine.TierEmployee:
			e, ok := t.Employees[v.Employee]
			if !ok {
				return nil, engine.NewNotFoundError("employee", v.Employee)
			}
			value.EmployeeID = e.ID
		case engine.TierCompany:
			d, ok := t.Divisions[v.Division]
			if !ok {
				return nil, engine.NewNotFoundError("division", v.Division)
			}
			value.DivisionID = d.ID
		}
		if err := target.AddCaseValue(ctx, &value); err != nil {
			return nil, fmt.Errorf("failed to add case value %s: %w", v.CaseFieldName, err)
		}
	}
	return t, nil
}

func resolveShare(applied *Applied, provider *AppliedTenant, s *ShareBundle) (*engine.RegulationShare, error) {
	reg, ok := provider.Regulations[s.Regulation]
	if !ok {
		return nil, engine.NewNotFoundError("regulation", s.Regulation)
	}
	consumer, ok := applied.Tenants[s.ConsumerTenant]
	if !ok {
		return nil, engine.NewNotFoundError("tenant", s.ConsumerTenant)
	}
	share := &engine.RegulationShare{
		ProviderTenantID:     provider.Tenant.ID,
		ProviderRegulationID: reg.ID,
		ConsumerTenantID:     consumer.Tenant.ID,
		Created:              s.Created,
	}
	if s.ConsumerDivision != "" {
		d, ok := consumer.Divisions[s.ConsumerDivision]
		if !ok {
			return nil, engine.NewNotFoundError("division", s.ConsumerDivision)
		}
		share.ConsumerDivisionID = d.ID
	}
	return share, nil
}
