package casevalue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/payroll/pkg/engine"
)

type fakeRepo struct {
	values []*engine.CaseValue
	err    error
}

func (r *fakeRepo) ListCaseValues(_ context.Context, q engine.CaseValueQuery) ([]*engine.CaseValue, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*engine.CaseValue
	for _, v := range r.values {
		if v.Tier != q.Tier || v.CaseFieldName != q.CaseFieldName {
			continue
		}
		if q.Tier == engine.TierEmployee && v.EmployeeID != q.EmployeeID {
			continue
		}
		if q.CaseSlot != nil && v.CaseSlot != *q.CaseSlot {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *fakeRepo) AddCaseValue(_ context.Context, v *engine.CaseValue) error {
	r.values = append(r.values, v)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func costCenterRepo() *fakeRepo {
	return &fakeRepo{values: []*engine.CaseValue{
		{ID: 1, Tier: engine.TierGlobal, CaseFieldName: "CostCenter", Value: "A", Created: date(2023, 1, 1)},
		{ID: 2, Tier: engine.TierEmployee, EmployeeID: 7, CaseFieldName: "CostCenter", Value: "B",
			Start: ptr(date(2024, 1, 1)), End: ptr(date(2024, 6, 1)), Created: date(2023, 12, 1)},
	}}
}

func TestValueAt_TierFallback(t *testing.T) {
	p := NewProvider(costCenterRepo(), Scope{EmployeeID: 7}, date(2024, 12, 31), EmployeeTiers...)
	ctx := context.Background()

	v, err := p.ValueAt(ctx, "CostCenter", date(2024, 3, 1), nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "B", v.Value)
	assert.Equal(t, engine.TierEmployee, v.Tier)

	v, err = p.ValueAt(ctx, "CostCenter", date(2024, 7, 1), nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "A", v.Value)

	// End is exclusive.
	v, err = p.ValueAt(ctx, "CostCenter", date(2024, 6, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, "A", v.Value)
}

func TestValueAt_GlobalProviderIgnoresEmployee(t *testing.T) {
	p := NewProvider(costCenterRepo(), Scope{EmployeeID: 7}, date(2024, 12, 31), GlobalTiers...)

	v, err := p.ValueAt(context.Background(), "CostCenter", date(2024, 3, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, "A", v.Value)
	assert.Equal(t, []engine.CaseValueTier{engine.TierGlobal}, p.Tiers())
}

func TestValueAt_Visibility(t *testing.T) {
	repo := &fakeRepo{values: []*engine.CaseValue{
		{ID: 1, Tier: engine.TierEmployee, EmployeeID: 1, CaseFieldName: "Salary", Value: "5000", Created: date(2024, 1, 1)},
		{ID: 2, Tier: engine.TierEmployee, EmployeeID: 1, CaseFieldName: "Salary", Value: "5500", Created: date(2024, 3, 10)},
		{ID: 3, Tier: engine.TierEmployee, EmployeeID: 1, CaseFieldName: "Salary", Value: "9999", Created: date(2024, 3, 12),
			CancellationDate: ptr(date(2024, 3, 20))},
	}}
	ctx := context.Background()

	tests := []struct {
		name           string
		evaluationDate time.Time
		want           string
	}{
		{"before later change", date(2024, 3, 1), "5000"},
		{"after later change", date(2024, 3, 11), "5500"},
		{"newest not yet cancelled", date(2024, 3, 15), "9999"},
		{"newest cancelled", date(2024, 3, 20), "5500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(repo, Scope{EmployeeID: 1}, tt.evaluationDate, EmployeeTiers...)
			v, err := p.ValueAt(ctx, "Salary", date(2024, 3, 1), nil)
			require.NoError(t, err)
			require.NotNil(t, v)
			assert.Equal(t, tt.want, v.Value)
		})
	}
}

func TestValueAt_SlotsAndMissing(t *testing.T) {
	repo := &fakeRepo{values: []*engine.CaseValue{
		{ID: 1, Tier: engine.TierEmployee, EmployeeID: 1, CaseFieldName: "ChildName", CaseSlot: "child2", Value: "Bo", Created: date(2024, 1, 1)},
		{ID: 2, Tier: engine.TierEmployee, EmployeeID: 1, CaseFieldName: "ChildName", CaseSlot: "child1", Value: "Al", Created: date(2024, 1, 1)},
	}}
	p := NewProvider(repo, Scope{EmployeeID: 1}, date(2024, 12, 31), EmployeeTiers...)
	ctx := context.Background()

	slots, err := p.Slots(ctx, "ChildName")
	require.NoError(t, err)
	assert.Equal(t, []string{"child1", "child2"}, slots)

	slot := "child2"
	v, err := p.ValueAt(ctx, "ChildName", date(2024, 2, 1), &slot)
	require.NoError(t, err)
	assert.Equal(t, "Bo", v.Value)

	v, err = p.ValueAt(ctx, "Unknown", date(2024, 2, 1), nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = p.ValueAt(ctx, "", date(2024, 2, 1), nil)
	assert.True(t, engine.IsContractViolation(err))
}

func TestValuesInPeriod(t *testing.T) {
	p := NewProvider(costCenterRepo(), Scope{EmployeeID: 7}, date(2024, 12, 31), EmployeeTiers...)

	values, err := p.ValuesInPeriod(context.Background(), "CostCenter",
		engine.DatePeriod{Start: date(2024, 5, 1), End: date(2024, 8, 1)})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, engine.TierEmployee, values[0].Tier)
	assert.Equal(t, engine.TierGlobal, values[1].Tier)

	values, err = p.ValuesInPeriod(context.Background(), "CostCenter",
		engine.DatePeriod{Start: date(2024, 6, 1), End: date(2024, 8, 1)})
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "A", values[0].Value)
}

func TestTimeline(t *testing.T) {
	p := NewProvider(costCenterRepo(), Scope{EmployeeID: 7}, date(2024, 12, 31), EmployeeTiers...)

	segments, err := p.Timeline(context.Background(), "CostCenter",
		engine.DatePeriod{Start: date(2023, 11, 1), End: date(2024, 9, 1)}, nil)
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, "A", segments[0].Value.Value)
	assert.Equal(t, engine.DatePeriod{Start: date(2023, 11, 1), End: date(2024, 1, 1)}, segments[0].Period)
	assert.Equal(t, "B", segments[1].Value.Value)
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 1, 1), End: date(2024, 6, 1)}, segments[1].Period)
	assert.Equal(t, "A", segments[2].Value.Value)
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 6, 1), End: date(2024, 9, 1)}, segments[2].Period)

	_, err = p.Timeline(context.Background(), "CostCenter", engine.DatePeriod{Start: date(2024, 1, 1)}, nil)
	assert.True(t, engine.IsContractViolation(err))
}

func TestRepositoryFailure(t *testing.T) {
	p := NewProvider(&fakeRepo{err: errors.New("disk on fire")}, Scope{}, date(2024, 1, 1), EmployeeTiers...)

	_, err := p.ValueAt(context.Background(), "Salary", date(2024, 1, 1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
