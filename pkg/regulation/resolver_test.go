package regulation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/engine"
)

type fakeStore struct {
	tenants     []*engine.Tenant
	regulations []*engine.Regulation
	objects     map[int64]*engine.RegulationObjects
	shares      []*engine.RegulationShare
}

func (s *fakeStore) GetTenant(_ context.Context, id int64) (*engine.Tenant, error) {
	for _, t := range s.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, engine.NewNotFoundError("tenant", id)
}

func (s *fakeStore) GetTenantByIdentifier(_ context.Context, identifier string) (*engine.Tenant, error) {
	for _, t := range s.tenants {
		if t.Identifier == identifier {
			return t, nil
		}
	}
	return nil, engine.NewNotFoundError("tenant", identifier)
}

func (s *fakeStore) GetRegulation(_ context.Context, tenantID, id int64) (*engine.Regulation, error) {
	for _, r := range s.regulations {
		if r.TenantID == tenantID && r.ID == id {
			return r, nil
		}
	}
	return nil, engine.NewNotFoundError("regulation", id)
}

func (s *fakeStore) GetRegulationByName(_ context.Context, tenantID int64, name string) (*engine.Regulation, error) {
	for _, r := range s.regulations {
		if r.TenantID == tenantID && r.Name == name {
			return r, nil
		}
	}
	return nil, engine.NewNotFoundError("regulation", name)
}

func (s *fakeStore) GetRegulationObjects(_ context.Context, _, regulationID int64) (*engine.RegulationObjects, error) {
	if o, ok := s.objects[regulationID]; ok {
		return o, nil
	}
	return &engine.RegulationObjects{}, nil
}

func (s *fakeStore) ListRegulationShares(_ context.Context, _, regulationID int64) ([]*engine.RegulationShare, error) {
	var out []*engine.RegulationShare
	for _, sh := range s.shares {
		if sh.ProviderRegulationID == regulationID {
			out = append(out, sh)
		}
	}
	return out, nil
}

type shareList struct{}

func (shareList) AuthorizeShare(_ context.Context, req engine.ShareRequest) (bool, error) {
	if !req.Regulation.SharedRegulation {
		return false, nil
	}
	for _, s := range req.Shares {
		if s.ConsumerTenantID == req.ConsumerTenantID {
			return true, nil
		}
	}
	return false, nil
}

func newStore() *fakeStore {
	rangeSize := decimal.NewFromInt(1000)
	return &fakeStore{
		tenants: []*engine.Tenant{
			{ID: 1, Identifier: "acme"},
			{ID: 2, Identifier: "provider"},
		},
		regulations: []*engine.Regulation{
			{ID: 10, TenantID: 1, Name: "Company", Created: date(2020, 1, 1)},
			{ID: 20, TenantID: 2, Name: "Swiss", SharedRegulation: true, Created: date(2020, 1, 1)},
			{ID: 30, TenantID: 2, Name: "Private", Created: date(2020, 1, 1)},
		},
		objects: map[int64]*engine.RegulationObjects{
			10: {
				WageTypes: []*engine.WageType{wageType(1, 100, "return 20", date(2021, 1, 1))},
				Lookups: []*engine.Lookup{{
					ObjectMeta: engine.ObjectMeta{ID: 1, Created: date(2021, 1, 1)},
					Name:       "Rates",
					Values:     []engine.LookupValue{{Key: "A", Value: "0.5"}},
				}},
			},
			20: {
				WageTypes: []*engine.WageType{
					wageType(2, 100, "return 10", date(2021, 1, 1)),
					wageType(3, 50, "return 5", date(2021, 1, 1)),
				},
				Lookups: []*engine.Lookup{
					{
						ObjectMeta: engine.ObjectMeta{ID: 2, Created: date(2021, 1, 1)},
						Name:       "Rates",
						Values: []engine.LookupValue{
							{Key: "A", Value: "0.4"},
							{Key: "B", Value: "0.7", Localizations: map[string]string{"de": "null komma sieben"}},
						},
					},
					{
						ObjectMeta: engine.ObjectMeta{ID: 3, Created: date(2021, 1, 1)},
						Name:       "Tax",
						RangeSize:  &rangeSize,
						Values: []engine.LookupValue{
							{RangeValue: decPtr(0), Value: "0"},
							{RangeValue: decPtr(1000), Value: "0.05"},
							{RangeValue: decPtr(2000), Value: "0.1"},
						},
					},
				},
			},
		},
		shares: []*engine.RegulationShare{
			{ProviderTenantID: 2, ProviderRegulationID: 20, ConsumerTenantID: 1},
		},
	}
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func payroll(layers ...engine.PayrollLayer) *engine.Payroll {
	return &engine.Payroll{ID: 1, TenantID: 1, Name: "Monthly", Layers: layers}
}

func TestResolver_DeriveSharedLayers(t *testing.T) {
	store := newStore()
	r := NewResolver(store, store, shareList{}, zerolog.Nop())

	d, err := r.Derive(context.Background(), payroll(
		engine.PayrollLayer{Level: 1, Priority: 1, RegulationName: "Swiss", RegulationTenant: "provider"},
		engine.PayrollLayer{Level: 2, Priority: 1, RegulationName: "Company"},
	), Options{RegulationDate: date(2024, 1, 1)})
	require.NoError(t, err)

	wts := d.WageTypes()
	require.Len(t, wts, 2)
	assert.Equal(t, "50", wts[0].Key())
	assert.Equal(t, "100", wts[1].Key())
	assert.Equal(t, "return 20", wts[1].Object.ValueExpression.Source)

	wt, ok := d.WageType(decimal.NewFromInt(100))
	require.True(t, ok)
	assert.Len(t, wt.Chain, 2)
	assert.Equal(t, int64(10), d.Layers()[0].Regulation.ID)
}

func TestResolver_ShareDenied(t *testing.T) {
	store := newStore()
	r := NewResolver(store, store, shareList{}, zerolog.Nop())

	_, err := r.Derive(context.Background(), payroll(
		engine.PayrollLayer{Level: 1, Priority: 1, RegulationName: "Private", RegulationTenant: "provider"},
	), Options{})
	require.Error(t, err)
	assert.True(t, engine.IsDomainViolation(err))
	assert.Equal(t, engine.ErrCodeAccessDenied, engine.CodeOf(err))

	noPolicy := NewResolver(store, store, nil, zerolog.Nop())
	_, err = noPolicy.Derive(context.Background(), payroll(
		engine.PayrollLayer{Level: 1, Priority: 1, RegulationName: "Swiss", RegulationTenant: "provider"},
	), Options{})
	assert.Equal(t, engine.ErrCodeAccessDenied, engine.CodeOf(err))
}

func TestResolver_UnknownRegulation(t *testing.T) {
	store := newStore()
	r := NewResolver(store, store, shareList{}, zerolog.Nop())

	_, err := r.Derive(context.Background(), payroll(
		engine.PayrollLayer{Level: 1, Priority: 1, RegulationName: "Missing"},
	), Options{})
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
}

func TestLookupProvider(t *testing.T) {
	store := newStore()
	r := NewResolver(store, store, shareList{}, zerolog.Nop())
	d, err := r.Derive(context.Background(), payroll(
		engine.PayrollLayer{Level: 1, Priority: 1, RegulationName: "Swiss", RegulationTenant: "provider"},
		engine.PayrollLayer{Level: 2, Priority: 1, RegulationName: "Company"},
	), Options{})
	require.NoError(t, err)

	p := NewLookupProvider(d)
	ctx := context.Background()

	v, ok, err := p.LookupValue(ctx, "Rates", "A", language.English)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.5", v, "overriding lookup wins")

	v, ok, _ = p.LookupValue(ctx, "Rates", "B", language.MustParse("de-CH"))
	assert.True(t, ok)
	assert.Equal(t, "null komma sieben", v, "missing key falls back down the chain")

	_, ok, _ = p.LookupValue(ctx, "Rates", "Z", language.English)
	assert.False(t, ok)

	tests := []struct {
		value string
		want  string
		found bool
	}{
		{"0", "0", true},
		{"999.99", "0", true},
		{"1500", "0.05", true},
		{"2999", "0.1", true},
		{"3000", "", false},
		{"-1", "", false},
	}
	for _, tt := range tests {
		v, ok, err := p.RangeLookupValue(ctx, "Tax", decimal.RequireFromString(tt.value), language.English)
		require.NoError(t, err)
		assert.Equal(t, tt.found, ok, tt.value)
		assert.Equal(t, tt.want, v, tt.value)
	}
}
