package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/payroll/pkg/engine"
)

const acmeBundle = `
tenant:
  identifier: acme
  culture: de-CH
  calendar: Monthly
calendars:
  - name: Monthly
    periodTimeUnit: CalendarMonth
divisions:
  - name: Zurich
employees:
  - identifier: E1
    firstName: Anna
    divisions: [Zurich]
    status: Active
  - identifier: E2
    divisions: [Zurich]
    status: Active
regulations:
  - name: Base
    created: 2020-01-01
    objects:
      cases:
        - name: Salary
          caseType: Employee
      caseFields:
        - name: Salary
          caseName: Salary
          valueType: Money
      collectors:
        - name: Gross
      wageTypes:
        - wageTypeNumber: 100
          name: Salary
          collectors: [Gross]
          valueExpression: return GetCaseValue('Salary')
        - wageTypeNumber: 200
          name: Gross
          valueExpression:
            language: cel
            source: GetCollectorValue('Gross')
payrolls:
  - name: Zurich Payroll
    division: Zurich
    layers:
      - level: 1
        priority: 1
        regulationName: Base
payruns:
  - name: Monthly
    payroll: Zurich Payroll
caseValues:
  - tier: Employee
    employee: E1
    caseName: Salary
    caseFieldName: Salary
    valueType: Money
    value: "5000"
    start: 2024-01-01
  - tier: Employee
    employee: E2
    caseName: Salary
    caseFieldName: Salary
    valueType: Money
    value: "6000"
    start: 2024-01-01
`

const acmeCUE = `
tenant: {
	identifier: "acme"
	culture:    "de-CH"
}
calendars: [{name: "Monthly", periodTimeUnit: "CalendarMonth"}]
divisions: [{name: "Zurich"}]
employees: [{identifier: "E1", divisions: ["Zurich"]}]
regulations: [{
	name:    "Base"
	created: "2020-01-01T00:00:00Z"
	objects: {
		collectors: [{name: "Gross", collectMode: "Summary"}]
		wageTypes: [{
			wageTypeNumber:  100.5
			name:            "Bonus"
			collectors: ["Gross"]
			valueExpression: {language: "cel", source: "1"}
		}]
		lookups: [{
			name:      "Rates"
			rangeSize: "1000"
			values: [{rangeValue: 0, value: "0.05"}, {rangeValue: 1000, value: "0.07"}]
		}]
	}
}]
payrolls: [{
	name:     "Zurich Payroll"
	division: "Zurich"
	layers: [{level: 1, priority: 1, regulationName: "Base"}]
}]
payruns: [{name: "Monthly", payroll: "Zurich Payroll"}]
caseValues: [{
	tier:          "Employee"
	employee:      "E1"
	caseFieldName: "Salary"
	valueType:     "Money"
	value:         "5000"
	start:         "2024-01-01T00:00:00Z"
}]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func errorPaths(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		if e.Severity == "error" {
			out = append(out, e.Path)
		}
	}
	return out
}

func TestParser_ParseYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", acmeBundle)

	parsed, err := NewParser().Parse(context.Background(), []string{dir})
	require.NoError(t, err)
	require.NoError(t, parsed.Err())
	require.Len(t, parsed.Bundles, 1)

	b := parsed.Bundles[0]
	assert.Equal(t, "acme", b.Tenant.Identifier)
	assert.Equal(t, "de-CH", b.Tenant.Culture)
	require.Len(t, b.Employees, 2)
	assert.Equal(t, []string{"Zurich"}, b.Employees[0].Divisions)

	require.Len(t, b.Regulations, 1)
	reg := b.Regulations[0]
	assert.Equal(t, "Base", reg.Name)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), reg.Created)
	require.Len(t, reg.Objects.WageTypes, 2)
	assert.True(t, reg.Objects.WageTypes[0].WageTypeNumber.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, engine.Starlark("return GetCaseValue('Salary')"), reg.Objects.WageTypes[0].ValueExpression)
	assert.Equal(t, engine.LanguageCEL, reg.Objects.WageTypes[1].ValueExpression.Lang())

	require.Len(t, b.Payrolls, 1)
	assert.Equal(t, "Zurich", b.Payrolls[0].Division)
	assert.Equal(t, "Zurich Payroll", b.Payruns[0].Payroll)
	require.Len(t, b.CaseValues, 2)
	assert.Equal(t, engine.TierEmployee, b.CaseValues[0].Tier)
	assert.Equal(t, "E1", b.CaseValues[0].Employee)
	require.NotNil(t, b.CaseValues[0].Start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *b.CaseValues[0].Start)
}

func TestParser_ParseCUE(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acme.cue", acmeCUE)

	parsed, err := NewParser().Parse(context.Background(), []string{path})
	require.NoError(t, err)
	require.NoError(t, parsed.Err(), "%v", parsed.Errors)
	require.Len(t, parsed.Bundles, 1)

	reg := parsed.Bundles[0].Regulations[0]
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), reg.Created)
	require.Len(t, reg.Objects.WageTypes, 1)
	assert.Equal(t, "100.5", reg.Objects.WageTypes[0].WageTypeNumber.String())
	assert.Equal(t, engine.LanguageCEL, reg.Objects.WageTypes[0].ValueExpression.Lang())
	assert.Equal(t, engine.CollectSummary, reg.Objects.Collectors[0].CollectMode)

	lookup := reg.Objects.Lookups[0]
	require.NotNil(t, lookup.RangeSize)
	assert.Equal(t, "1000", lookup.RangeSize.String())
	require.Len(t, lookup.Values, 2)
	assert.Equal(t, "0.07", lookup.Values[1].Value)
}

func TestParser_ParseJSON(t *testing.T) {
	src := `{
  "tenant": {"identifier": "globex"},
  "divisions": [{"name": "HQ"}],
  "regulations": [{"name": "Base", "objects": {"collectors": [{"name": "Gross"}]}}],
  "payrolls": [{"name": "HQ", "division": "HQ", "layers": [{"level": 1, "priority": 1, "regulationName": "Base"}]}]
}`
	dir := t.TempDir()
	writeFile(t, dir, "globex.json", src)

	parsed, err := NewParser().Parse(context.Background(), []string{dir})
	require.NoError(t, err)
	require.NoError(t, parsed.Err())
	require.Len(t, parsed.Bundles, 1)
	assert.Equal(t, "globex", parsed.Bundles[0].Tenant.Identifier)
	assert.Equal(t, "HQ", parsed.Bundles[0].Payrolls[0].Division)
}

func TestParser_CUESchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad time unit", `tenant: identifier: "acme"
calendars: [{name: "Monthly", periodTimeUnit: "Fortnight"}]`},
		{"bad tenant identifier", `tenant: identifier: "acme corp"`},
		{"unknown top level field", `tenant: identifier: "acme"
employes: []`},
		{"payroll without layers", `tenant: identifier: "acme"
payrolls: [{name: "P", division: "D", layers: []}]`},
		{"employee value without employee", `tenant: identifier: "acme"
caseValues: [{tier: "Employee", caseFieldName: "Salary", valueType: "Money", value: "1"}]`},
		{"syntax", `tenant: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := NewParser().ParseInline(context.Background(), tt.src, FormatCUE)
			require.NoError(t, err)
			require.True(t, parsed.HasErrors())
			assert.Error(t, parsed.Err())
			assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(parsed.Err()))
		})
	}
}

func TestParser_CUEErrorPositions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.cue", "tenant: identifier: \"acme\"\ncalendars: [{name: \"M\",\n")

	bundles, errs := NewParser().ParseFile(path)
	assert.Empty(t, bundles)
	require.NotEmpty(t, errs)
	var located bool
	for _, e := range errs {
		if e.File == path && e.Line > 0 {
			located = true
		}
	}
	assert.True(t, located, "%v", errs)
}

func TestParser_References(t *testing.T) {
	base := "tenant:\n  identifier: acme\ndivisions:\n  - name: Zurich\nregulations:\n  - name: Base\n"
	tests := []struct {
		name string
		src  string
		path string
	}{
		{
			name: "employee division",
			src:  "employees:\n  - identifier: E1\n    divisions: [Geneva]\n",
			path: "acme:employees[0].divisions[0]",
		},
		{
			name: "payroll division",
			src:  "payrolls:\n  - name: P\n    division: Geneva\n    layers:\n      - {level: 1, priority: 1, regulationName: Base}\n",
			path: "acme:payrolls[0].division",
		},
		{
			name: "layer regulation",
			src:  "payrolls:\n  - name: P\n    division: Zurich\n    layers:\n      - {level: 1, priority: 1, regulationName: Missing}\n",
			path: "acme:payrolls[0].layers[0].regulationName",
		},
		{
			name: "payrun payroll",
			src:  "payruns:\n  - name: Monthly\n    payroll: Missing\n",
			path: "acme:payruns[0].payroll",
		},
		{
			name: "case value employee",
			src:  "caseValues:\n  - {tier: Employee, employee: E9, caseFieldName: Salary, valueType: Money, value: '1'}\n",
			path: "acme:caseValues[0].employee",
		},
		{
			name: "case value format",
			src:  "caseValues:\n  - {tier: Global, caseFieldName: Rate, valueType: Decimal, value: high}\n",
			path: "acme:caseValues[0].value",
		},
		{
			name: "case value period",
			src:  "caseValues:\n  - {tier: Global, caseFieldName: Rate, valueType: Decimal, value: '1', start: 2024-02-01, end: 2024-01-01}\n",
			path: "acme:caseValues[0].end",
		},
		{
			name: "duplicate employee",
			src:  "employees:\n  - identifier: E1\n  - identifier: E1\n",
			path: "acme:employees[1]",
		},
		{
			name: "share regulation",
			src:  "shares:\n  - {regulation: Missing, consumerTenant: globex}\n",
			path: "acme:shares[0].regulation",
		},
		{
			name: "valid references",
			src:  "payruns:\n  - name: Monthly\n    payroll: P\npayrolls:\n  - name: P\n    division: Zurich\n    layers:\n      - {level: 1, priority: 1, regulationName: Base}\n",
			path: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := NewParser().ParseInline(context.Background(), base+tt.src, FormatYAML)
			require.NoError(t, err)
			if tt.path == "" {
				assert.Empty(t, errorPaths(parsed.Errors))
				return
			}
			assert.Contains(t, errorPaths(parsed.Errors), tt.path)
		})
	}
}

func TestParser_ObjectValidation(t *testing.T) {
	src := `
tenant:
  identifier: acme
regulations:
  - name: Base
    objects:
      collectors:
        - collectMode: Summary
`
	parsed, err := NewParser().ParseInline(context.Background(), src, FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, errorPaths(parsed.Errors), "acme:regulations[0].objects.collector().Name")
}

func TestParser_UnknownCalendarWarns(t *testing.T) {
	src := "tenant:\n  identifier: acme\n  calendar: Weekly\n"
	parsed, err := NewParser().ParseInline(context.Background(), src, FormatYAML)
	require.NoError(t, err)
	assert.False(t, parsed.HasErrors())
	assert.NoError(t, parsed.Err())
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, "warning", parsed.Errors[0].Severity)
}

func TestParser_UnknownYAMLField(t *testing.T) {
	parsed, err := NewParser().ParseInline(context.Background(), "tenant:\n  identifier: acme\nemployes: []\n", FormatYAML)
	require.NoError(t, err)
	assert.True(t, parsed.HasErrors())
}

func TestParser_MergesTenantFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme/base.yaml", "tenant:\n  identifier: acme\n  culture: de-CH\ndivisions:\n  - name: Zurich\n")
	writeFile(t, dir, "acme/employees.yaml", "tenant:\n  identifier: acme\n  calendar: Monthly\ncalendars:\n  - {name: Monthly, periodTimeUnit: CalendarMonth}\nemployees:\n  - identifier: E1\n    divisions: [Zurich]\n")
	writeFile(t, dir, "globex.yaml", "tenant:\n  identifier: globex\n---\ntenant:\n  identifier: initech\n")

	parsed, err := NewParser().Parse(context.Background(), []string{dir})
	require.NoError(t, err)
	require.NoError(t, parsed.Err(), "%v", parsed.Errors)
	require.Len(t, parsed.Bundles, 3)

	acme := parsed.Bundles[0]
	assert.Equal(t, "acme", acme.Tenant.Identifier)
	assert.Equal(t, "de-CH", acme.Tenant.Culture)
	assert.Equal(t, "Monthly", acme.Tenant.Calendar)
	assert.Len(t, acme.Divisions, 1)
	assert.Len(t, acme.Employees, 1)
	assert.Equal(t, "globex", parsed.Bundles[1].Tenant.Identifier)
	assert.Equal(t, "initech", parsed.Bundles[2].Tenant.Identifier)
	assert.Len(t, parsed.SourceFiles, 3)
}

func TestParser_MergeConflict(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "tenant:\n  identifier: acme\n  culture: de-CH\n")
	writeFile(t, dir, "b.yaml", "tenant:\n  identifier: acme\n  culture: fr-CH\n")

	parsed, err := NewParser().Parse(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Contains(t, errorPaths(parsed.Errors), "tenant.culture")
}

func TestParser_MissingSource(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = NewParser().Parse(context.Background(), nil)
	assert.Error(t, err)
}

func TestBundleFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "")
	writeFile(t, dir, "a.cue", "")
	writeFile(t, dir, "nested/c.json", "")
	writeFile(t, dir, "notes.txt", "")
	writeFile(t, dir, ".hidden.yaml", "")
	writeFile(t, dir, ".git/config.yaml", "")

	files, err := BundleFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.cue"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.json"),
	}, files)
}

func TestValidationError_String(t *testing.T) {
	assert.Equal(t, "a.cue:3:7: tenant.identifier: invalid",
		ValidationError{File: "a.cue", Line: 3, Column: 7, Path: "tenant.identifier", Message: "invalid"}.String())
	assert.Equal(t, "a.yaml: empty bundle", ValidationError{File: "a.yaml", Message: "empty bundle"}.String())
	assert.Equal(t, "payruns[0]: bad", ValidationError{Path: "payruns[0]", Message: "bad"}.String())
	assert.Equal(t, "bad", ValidationError{Message: "bad"}.String())
}
