package casevalue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Tier sets providers are commonly bound to.
var (
	EmployeeTiers = []engine.CaseValueTier{engine.TierEmployee, engine.TierCompany, engine.TierNational, engine.TierGlobal}
	CompanyTiers  = []engine.CaseValueTier{engine.TierCompany, engine.TierNational, engine.TierGlobal}
	NationalTiers = []engine.CaseValueTier{engine.TierNational, engine.TierGlobal}
	GlobalTiers   = []engine.CaseValueTier{engine.TierGlobal}
)

// Scope identifies whose case values a provider reads.
type Scope struct {
	TenantID   int64
	EmployeeID int64
	DivisionID int64
}

// Provider resolves case values across its bound tiers as of an evaluation date.
type Provider struct {
	repo           engine.CaseValueRepository
	scope          Scope
	evaluationDate time.Time
	tiers          []engine.CaseValueTier
}

// Segment is a stretch of time during which one case value applies.
type Segment struct {
	Period engine.DatePeriod
	Value  *engine.CaseValue
}

// NewProvider creates a provider bound to the given tiers. The tiers are
// always searched in precedence order, whatever order they are passed in.
func NewProvider(repo engine.CaseValueRepository, scope Scope, evaluationDate time.Time, tiers ...engine.CaseValueTier) *Provider {
	bound := make([]engine.CaseValueTier, 0, len(tiers))
	for _, t := range engine.TierPrecedence {
		for _, want := range tiers {
			if t == want {
				bound = append(bound, t)
				break
			}
		}
	}
	return &Provider{
		repo:           repo,
		scope:          scope,
		evaluationDate: evaluationDate,
		tiers:          bound,
	}
}

// Tiers returns the bound tiers in precedence order.
func (p *Provider) Tiers() []engine.CaseValueTier {
	return p.tiers
}

// EvaluationDate returns the date deciding value visibility.
func (p *Provider) EvaluationDate() time.Time {
	return p.evaluationDate
}

// ValueAt returns the value of the field valid at the moment from the most
// specific tier that has one, or nil. A nil slot matches any slot.
func (p *Provider) ValueAt(ctx context.Context, field string, moment time.Time, slot *string) (*engine.CaseValue, error) {
	if field == "" {
		return nil, engine.NewContractError("case field name is required", nil).WithCode(engine.ErrCodeValidation)
	}
	for _, tier := range p.tiers {
		values, err := p.load(ctx, tier, field, slot)
		if err != nil {
			return nil, err
		}
		if v := pick(values, moment); v != nil {
			return v, nil
		}
	}
	return nil, nil
}

// ValuesInPeriod returns every visible slice of the field overlapping the
// period, across all bound tiers. Each value carries its tier.
func (p *Provider) ValuesInPeriod(ctx context.Context, field string, period engine.DatePeriod) ([]*engine.CaseValue, error) {
	if field == "" {
		return nil, engine.NewContractError("case field name is required", nil).WithCode(engine.ErrCodeValidation)
	}
	var result []*engine.CaseValue
	for _, tier := range p.tiers {
		values, err := p.load(ctx, tier, field, nil)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			if v.Period().Overlaps(period) {
				result = append(result, v)
			}
		}
	}
	return result, nil
}

// Slots returns the distinct slot names used by visible values of the field.
func (p *Provider) Slots(ctx context.Context, field string) ([]string, error) {
	seen := make(map[string]bool)
	var slots []string
	for _, tier := range p.tiers {
		values, err := p.load(ctx, tier, field, nil)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			if v.CaseSlot != "" && !seen[v.CaseSlot] {
				seen[v.CaseSlot] = true
				slots = append(slots, v.CaseSlot)
			}
		}
	}
	sort.Strings(slots)
	return slots, nil
}

// Timeline splits the period into segments during which a single value
// applies. Gaps without a value are omitted; adjacent segments of the same
// value are merged.
func (p *Provider) Timeline(ctx context.Context, field string, period engine.DatePeriod, slot *string) ([]Segment, error) {
	if period.Start.IsZero() || period.End.IsZero() || !period.Start.Before(period.End) {
		return nil, engine.NewContractError(fmt.Sprintf("invalid timeline period %s", period), nil).
			WithCode(engine.ErrCodeOutOfRange)
	}

	byTier := make(map[engine.CaseValueTier][]*engine.CaseValue, len(p.tiers))
	bounds := []time.Time{period.Start, period.End}
	for _, tier := range p.tiers {
		values, err := p.load(ctx, tier, field, slot)
		if err != nil {
			return nil, err
		}
		byTier[tier] = values
		for _, v := range values {
			if v.Start != nil && period.Contains(*v.Start) {
				bounds = append(bounds, *v.Start)
			}
			if v.End != nil && period.Contains(*v.End) {
				bounds = append(bounds, *v.End)
			}
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })

	var segments []Segment
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		if !start.Before(end) {
			continue
		}
		var value *engine.CaseValue
		for _, tier := range p.tiers {
			if value = pick(byTier[tier], start); value != nil {
				break
			}
		}
		if value == nil {
			continue
		}
		if n := len(segments); n > 0 && segments[n-1].Value == value && segments[n-1].Period.End.Equal(start) {
			segments[n-1].Period.End = end
			continue
		}
		segments = append(segments, Segment{Period: engine.DatePeriod{Start: start, End: end}, Value: value})
	}
	return segments, nil
}

// load reads the visible values of one tier.
func (p *Provider) load(ctx context.Context, tier engine.CaseValueTier, field string, slot *string) ([]*engine.CaseValue, error) {
	query := engine.CaseValueQuery{
		Tier:          tier,
		TenantID:      p.scope.TenantID,
		CaseFieldName: field,
		CaseSlot:      slot,
	}
	switch tier {
	case engine.TierEmployee:
		query.EmployeeID = p.scope.EmployeeID
		query.DivisionID = p.scope.DivisionID
	case engine.TierCompany:
		query.DivisionID = p.scope.DivisionID
	}

	values, err := p.repo.ListCaseValues(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s case values of %s: %w", tier, field, err)
	}

	visible := values[:0:0]
	for _, v := range values {
		if v.VisibleAt(p.evaluationDate) {
			if v.Tier == "" {
				v.Tier = tier
			}
			visible = append(visible, v)
		}
	}
	return visible, nil
}

// pick selects the slice valid at the moment; the most recently created wins.
func pick(values []*engine.CaseValue, moment time.Time) *engine.CaseValue {
	var best *engine.CaseValue
	for _, v := range values {
		if !v.Period().Contains(moment) {
			continue
		}
		if best == nil || v.Created.After(best.Created) ||
			(v.Created.Equal(best.Created) && v.ID > best.ID) {
			best = v
		}
	}
	return best
}
