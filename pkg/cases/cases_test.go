package cases

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/casevalue"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
	"github.com/openfroyo/payroll/pkg/stores"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func starlark(source string) engine.Expression { return engine.Starlark(source) }

func testObjects() *engine.RegulationObjects {
	return &engine.RegulationObjects{
		Cases: []*engine.Case{
			{
				Name:                "Salary",
				CaseType:            engine.CaseTypeEmployee,
				AvailableExpression: starlark("return EmployeeIdentifier != 'E9'"),
				BuildExpression: starlark(
					"if GetFieldValue('Monthly') == None:\n" +
						"    SetFieldValue('Monthly', 5000)\n" +
						"SetFieldValue('Yearly', GetFieldValue('Monthly') * 13)\n" +
						"SetFieldStart('Yearly', '2024-01-01')\n" +
						"AddFieldTag('Yearly', 'derived')"),
				ValidateExpression: starlark(
					"if GetFieldValue('Monthly') > 20000:\n" +
						"    AddIssue('salary too high', 'Monthly')\n" +
						"return GetFieldValue('Monthly') > 0"),
			},
			{Name: "Address", CaseType: engine.CaseTypeEmployee},
			{Name: "Holidays", CaseType: engine.CaseTypeCompany},
			{Name: "Wage", CaseType: engine.CaseTypeEmployee},
		},
		CaseFields: []*engine.CaseField{
			{Name: "Monthly", CaseName: "Salary", ValueType: engine.ValueTypeMoney},
			{Name: "Yearly", CaseName: "Salary", ValueType: engine.ValueTypeMoney},
			{Name: "City", CaseName: "Address", ValueType: engine.ValueTypeString, TimeType: engine.TimeTypePeriod},
			{Name: "Amount", CaseName: "Wage", ValueType: engine.ValueTypeDecimal},
		},
		CaseRelations: []*engine.CaseRelation{
			{
				SourceCaseName:  "Salary",
				TargetCaseName:  "Wage",
				BuildExpression: starlark("SetTargetFieldValue('Amount', GetSourceFieldValue('Monthly'))"),
				ValidateExpression: starlark(
					"return GetTargetFieldValue('Amount') == GetSourceFieldValue('Monthly')"),
			},
		},
	}
}

func newService(t *testing.T, employee string, caseValues *casevalue.Provider) *Service {
	t.Helper()
	ctx := context.Background()
	host, err := scripting.NewHost(ctx, scripting.DefaultOptions(), zerolog.Nop(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close(ctx) })

	d := regulation.NewDerivation([]regulation.Layer{{
		Level:      1,
		Priority:   1,
		Regulation: &engine.Regulation{ID: 1, Name: "Base", Created: date(2020, 1, 1)},
		Objects:    testObjects(),
	}}, regulation.Options{})

	return NewService(facade.NewRuntime(host, &facade.Context{
		Tenant:         &engine.Tenant{ID: 1, Identifier: "acme"},
		Employee:       &engine.Employee{ID: 7, TenantID: 1, Identifier: employee},
		EvaluationDate: date(2024, 3, 15),
		Culture:        language.MustParse("de-CH"),
		Derivation:     d,
		CaseValues:     caseValues,
		Logger:         zerolog.Nop(),
	}))
}

func salarySet(monthly string) *Set {
	return &Set{Name: "Salary", Fields: []*Field{
		{Name: "Monthly", ValueType: engine.ValueTypeMoney, Value: monthly},
		{Name: "Yearly", ValueType: engine.ValueTypeMoney},
	}}
}

func TestService_Available(t *testing.T) {
	ctx := context.Background()

	ok, err := newService(t, "E1", nil).Available(ctx, "Salary")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = newService(t, "E9", nil).Available(ctx, "Salary")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = newService(t, "E9", nil).Available(ctx, "Address")
	require.NoError(t, err)
	assert.True(t, ok, "cases without script are available")

	_, err = newService(t, "E1", nil).Available(ctx, "Unknown")
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
}

func TestService_AvailableCases(t *testing.T) {
	names, err := newService(t, "E9", nil).AvailableCases(context.Background(), engine.CaseTypeEmployee)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Address", "Wage"}, names)
}

func TestService_Build(t *testing.T) {
	s := newService(t, "E1", nil)

	t.Run("fills missing values", func(t *testing.T) {
		set := salarySet("")
		ok, err := s.Build(context.Background(), set)
		require.NoError(t, err)
		assert.True(t, ok)

		monthly, _ := set.Field("Monthly")
		yearly, _ := set.Field("Yearly")
		assert.Equal(t, "5000", monthly.Value)
		assert.Equal(t, "65000", yearly.Value)
		require.NotNil(t, yearly.Start)
		assert.Equal(t, date(2024, 1, 1), *yearly.Start)
		assert.Equal(t, []string{"derived"}, yearly.Tags)
	})

	t.Run("keeps entered values", func(t *testing.T) {
		set := salarySet("4000")
		_, err := s.Build(context.Background(), set)
		require.NoError(t, err)

		yearly, _ := set.Field("Yearly")
		assert.Equal(t, "52000", yearly.Value)
	})

	t.Run("unknown field is a domain error", func(t *testing.T) {
		set := &Set{Name: "Salary", Fields: []*Field{{Name: "Yearly", ValueType: engine.ValueTypeMoney}}}
		_, err := s.Build(context.Background(), set)
		require.Error(t, err)
		assert.True(t, engine.IsNotFound(err))
	})
}

func TestService_Validate(t *testing.T) {
	s := newService(t, "E1", nil)
	ctx := context.Background()

	issues, err := s.Validate(ctx, salarySet("5000"))
	require.NoError(t, err)
	assert.Empty(t, issues)

	issues, err = s.Validate(ctx, salarySet("25000"))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Monthly", issues[0].FieldName)
	assert.Equal(t, "salary too high", issues[0].Message)

	issues, err = s.Validate(ctx, salarySet("-1"))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "rejected by the validate script", issues[0].Message)
	assert.Equal(t, "Salary: rejected by the validate script", issues[0].String())
}

func TestService_ValidateFields(t *testing.T) {
	s := newService(t, "E1", nil)
	start, end := date(2024, 5, 1), date(2024, 2, 1)

	issues, err := s.Validate(context.Background(), &Set{Name: "Address", Fields: []*Field{
		{Name: "City", Value: "Zurich", Start: &start, End: &end},
		{Name: "Street", Value: "Main"},
	}})
	require.NoError(t, err)

	var messages []string
	for _, i := range issues {
		messages = append(messages, i.String())
	}
	assert.ElementsMatch(t, []string{
		"Address.City: start 2024-05-01 is not before end 2024-02-01",
		"Address.Street: unknown case field",
	}, messages)

	issues, err = s.Validate(context.Background(), &Set{Name: "Salary", Fields: []*Field{
		{Name: "Monthly", Value: "lots"},
	}})
	require.Error(t, err, "the validate script cannot compare an invalid value")
	assert.Nil(t, issues)
}

func TestService_Relations(t *testing.T) {
	s := newService(t, "E1", nil)
	ctx := context.Background()
	source := salarySet("4200")
	target := &Set{Name: "Wage", Fields: []*Field{{Name: "Amount", ValueType: engine.ValueTypeDecimal}}}

	issues, err := s.ValidateRelations(ctx, source, target)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Wage", issues[0].CaseName)

	require.NoError(t, s.BuildRelations(ctx, source, target))
	amount, _ := target.Field("Amount")
	assert.Equal(t, "4200", amount.Value)

	issues, err = s.ValidateRelations(ctx, source, target)
	require.NoError(t, err)
	assert.Empty(t, issues)

	other := &Set{Name: "Address"}
	require.NoError(t, s.BuildRelations(ctx, source, other))
}

func TestService_NewSetFromCaseValues(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	start := date(2024, 1, 1)
	require.NoError(t, store.AddCaseValue(ctx, &engine.CaseValue{
		Tier:          engine.TierEmployee,
		TenantID:      1,
		EmployeeID:    7,
		CaseName:      "Salary",
		CaseFieldName: "Monthly",
		ValueType:     engine.ValueTypeMoney,
		Value:         "6100",
		Start:         &start,
		Created:       date(2023, 12, 1),
	}))
	provider := casevalue.NewProvider(store, casevalue.Scope{TenantID: 1, EmployeeID: 7, DivisionID: 2},
		date(2024, 3, 15), casevalue.EmployeeTiers...)
	s := newService(t, "E1", provider)

	set, err := s.NewSet(ctx, "Salary", "", date(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"Monthly", "Yearly"}, set.FieldNames())
	monthly, _ := set.Field("Monthly")
	assert.Equal(t, "6100", monthly.Value)
	assert.Equal(t, &start, monthly.Start)

	values := set.CaseValues(engine.CaseTypeEmployee, engine.CaseValue{TenantID: 1, EmployeeID: 7})
	require.Len(t, values, 1)
	assert.Equal(t, engine.TierEmployee, values[0].Tier)
	assert.Equal(t, "Monthly", values[0].CaseFieldName)
	assert.Equal(t, "Salary", values[0].CaseName)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		valueType engine.ValueType
		want      string
		wantErr   bool
	}{
		{"integer", int64(12), engine.ValueTypeInteger, "12", false},
		{"fraction is no integer", 1.5, engine.ValueTypeInteger, "", true},
		{"money", "12.50", engine.ValueTypeMoney, "12.5", false},
		{"boolean", true, engine.ValueTypeBoolean, "true", false},
		{"boolean from text", "yes", engine.ValueTypeBoolean, "", true},
		{"date", "2024-02-29", engine.ValueTypeDate, "2024-02-29", false},
		{"string", "Zurich", engine.ValueTypeString, "Zurich", false},
		{"nil clears", nil, engine.ValueTypeString, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatValue(tt.value, tt.valueType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
