package facade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/casevalue"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

type fakeCaseValues struct {
	values []*engine.CaseValue
}

func (r *fakeCaseValues) ListCaseValues(_ context.Context, q engine.CaseValueQuery) ([]*engine.CaseValue, error) {
	var out []*engine.CaseValue
	for _, v := range r.values {
		if v.Tier == q.Tier && v.CaseFieldName == q.CaseFieldName {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakeCaseValues) AddCaseValue(_ context.Context, v *engine.CaseValue) error {
	r.values = append(r.values, v)
	return nil
}

type fakeSinks struct {
	logs  []*engine.LogEntry
	tasks []*engine.Task
}

func (s *fakeSinks) AddLog(_ context.Context, entry *engine.LogEntry) error {
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeSinks) AddTask(_ context.Context, task *engine.Task) error {
	s.tasks = append(s.tasks, task)
	return nil
}

type fakeWebhooks struct {
	response string
	err      error
	invoked  []engine.WebhookMessage
}

func (w *fakeWebhooks) Send(context.Context, engine.WebhookMessage) error { return nil }

func (w *fakeWebhooks) Invoke(_ context.Context, m engine.WebhookMessage) (string, error) {
	w.invoked = append(w.invoked, m)
	return w.response, w.err
}

type fakeLookups map[string]string

func (l fakeLookups) LookupValue(_ context.Context, name, key string, _ language.Tag) (string, bool, error) {
	v, ok := l[name+"/"+key]
	return v, ok, nil
}

func (l fakeLookups) RangeLookupValue(_ context.Context, name string, v decimal.Decimal, _ language.Tag) (string, bool, error) {
	if v.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		return "high", true, nil
	}
	return "low", true, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func newHost(t *testing.T) *scripting.Host {
	t.Helper()
	ctx := context.Background()
	h, err := scripting.NewHost(ctx, scripting.DefaultOptions(), zerolog.Nop(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(ctx) })
	return h
}

func newContext(t *testing.T) *Context {
	t.Helper()
	cal, err := calendar.NewCalculator(engine.Calendar{Name: "Monthly", PeriodTimeUnit: engine.TimeUnitCalendarMonth}, language.MustParse("de-CH"))
	require.NoError(t, err)

	repo := &fakeCaseValues{values: []*engine.CaseValue{
		{ID: 1, Tier: engine.TierGlobal, CaseFieldName: "CostCenter", ValueType: engine.ValueTypeString, Value: "A", Created: date(2023, 1, 1)},
		{ID: 2, Tier: engine.TierEmployee, EmployeeID: 7, CaseFieldName: "CostCenter", ValueType: engine.ValueTypeString, Value: "B",
			Start: ptr(date(2024, 1, 1)), End: ptr(date(2024, 6, 1)), Created: date(2023, 12, 1)},
		{ID: 3, Tier: engine.TierEmployee, EmployeeID: 7, CaseFieldName: "Salary", ValueType: engine.ValueTypeMoney, Value: "5000",
			Start: ptr(date(2024, 1, 1)), Created: date(2023, 12, 1)},
	}}
	employee := &engine.Employee{ID: 7, TenantID: 1, Identifier: "E7", Attributes: map[string]interface{}{"grade": "senior"}}
	evaluation := date(2024, 3, 15)

	return &Context{
		Tenant:         &engine.Tenant{ID: 1, Identifier: "acme"},
		Payroll:        &engine.Payroll{ID: 1, Name: "CH"},
		Employee:       employee,
		Period:         engine.DatePeriod{Start: date(2024, 3, 1), End: date(2024, 4, 1)},
		EvaluationDate: evaluation,
		RegulationDate: evaluation,
		Culture:        language.MustParse("de-CH"),
		Calendar:       cal,
		CaseValues: casevalue.NewProvider(repo, casevalue.Scope{TenantID: 1, EmployeeID: 7},
			evaluation, casevalue.EmployeeTiers...),
		Lookups:       fakeLookups{"Rates/A": "0.05"},
		RuntimeValues: NewRuntimeValues(),
		Logger:        zerolog.Nop(),
		Now:           func() time.Time { return evaluation },
	}
}

func run(t *testing.T, rt *Runtime, source string) (any, error) {
	t.Helper()
	return rt.Invoke(context.Background(), Call{
		FunctionType: engine.FunctionWageTypeValue,
		Object:       "1000",
		Expression:   engine.Starlark(source),
	})
}

func TestRuntime_ContextValues(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	value, err := run(t, rt, "EmployeeIdentifier + '/' + PeriodStart + '/' + Culture + '/' + PayrollName")
	require.NoError(t, err)
	assert.Equal(t, "E7/2024-03-01/de-CH/CH", value)

	value, err = run(t, rt, "GetEmployeeAttribute('grade')")
	require.NoError(t, err)
	assert.Equal(t, "senior", value)

	value, err = run(t, rt, "DivisionName == None")
	require.NoError(t, err)
	assert.Equal(t, true, value)
}

func TestRuntime_EmptyExpression(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	value, err := run(t, rt, "")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRuntime_OwnerAttributes(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))
	attrs := NewAttributes(map[string]interface{}{"factor": 2})

	value, err := rt.Invoke(context.Background(), Call{
		FunctionType: engine.FunctionCollectorEnd,
		Object:       "Income",
		Expression:   engine.Starlark("SetAttribute('checked', True)\nreturn GetAttribute('factor') * 21"),
		Attributes:   attrs,
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(42).Equal(value.(decimal.Decimal)))

	checked, ok := attrs.Get("checked")
	require.True(t, ok)
	assert.Equal(t, true, checked)

	attrs.Set("checked", nil)
	_, ok = attrs.Get("checked")
	assert.False(t, ok)
}

func TestRuntime_LogsAndTasks(t *testing.T) {
	fc := newContext(t)
	sinks := &fakeSinks{}
	fc.Logs = sinks
	fc.Tasks = sinks
	rt := NewRuntime(newHost(t), fc)

	value, err := run(t, rt, "AddLog('high salary', level='Warning')\nreturn AddTask('Review', instruction='check contract')")
	require.NoError(t, err)

	require.Len(t, sinks.logs, 1)
	assert.Equal(t, engine.LogLevelWarning, sinks.logs[0].Level)
	assert.Equal(t, "high salary", sinks.logs[0].Message)
	assert.Equal(t, "1000", sinks.logs[0].Owner)
	assert.NotEmpty(t, sinks.logs[0].ID)

	require.Len(t, sinks.tasks, 1)
	task := sinks.tasks[0]
	assert.Equal(t, task.ID, value)
	assert.Equal(t, int64(7), task.EmployeeID)
	assert.Equal(t, "check contract", task.Instruction)
	assert.Equal(t, date(2024, 3, 1), task.Scheduled)
}

func TestRuntime_Webhooks(t *testing.T) {
	fc := newContext(t)
	hooks := &fakeWebhooks{response: "accepted"}
	fc.Webhooks = hooks
	rt := NewRuntime(newHost(t), fc)

	value, err := run(t, rt, "InvokeWebhook('{\"amount\": 1}', operation='check')")
	require.NoError(t, err)
	assert.Equal(t, "accepted", value)
	require.Len(t, hooks.invoked, 1)
	assert.Equal(t, engine.WebhookActionPayrunFunction, hooks.invoked[0].Action)
	assert.False(t, hooks.invoked[0].Tracked)

	hooks.err = errors.New("connection refused")
	value, err = run(t, rt, "InvokeWebhook('{}')")
	require.NoError(t, err, "webhook failures are best effort")
	assert.Equal(t, "", value)
}

func TestRuntime_Calendar(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	tests := []struct {
		source   string
		expected any
	}{
		{source: "GetPeriod()['end']", expected: "2024-04-01"},
		{source: "GetPeriod(offset=-1)['start']", expected: "2024-02-01"},
		{source: "GetCycle()['start']", expected: "2024-01-01"},
		{source: "IsWorkday('2024-03-02')", expected: false},
		{source: "NextWorkdays('2024-03-01', 1)[0]", expected: "2024-03-04"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			value, err := run(t, rt, tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, value)
		})
	}

	value, err := run(t, rt, "DayCount()")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(31).Equal(value.(decimal.Decimal)))

	value, err = run(t, rt, "WorkdayCount()")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(21).Equal(value.(decimal.Decimal)))
}

func TestRuntime_CalendarLimits(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	for _, source := range []string{
		"GetPeriod('2024-01-01', 2000000000)",
		"NextWorkdays('2024-01-01', 2000000000)",
		"PreviousWorkdays('2024-01-01', 5000)",
	} {
		_, err := run(t, rt, source)
		require.Error(t, err, source)
		assert.True(t, engine.IsContractViolation(err), source)
		assert.Equal(t, engine.ErrCodeOutOfRange, engine.CodeOf(err), source)
	}
}

func TestRuntime_CaseValues(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	value, err := run(t, rt, "GetCaseValue('CostCenter')")
	require.NoError(t, err)
	assert.Equal(t, "B", value)

	value, err = run(t, rt, "GetCaseValue('CostCenter', date='2024-07-01')")
	require.NoError(t, err)
	assert.Equal(t, "A", value)

	value, err = run(t, rt, "GetCaseValue('Salary') / 2")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2500).Equal(value.(decimal.Decimal)))

	value, err = run(t, rt, "HasCaseValue('Missing')")
	require.NoError(t, err)
	assert.Equal(t, false, value)

	value, err = run(t, rt, "[v['tier'] for v in GetCaseValues('CostCenter')]")
	require.NoError(t, err)
	assert.Equal(t, []any{"Employee", "Global"}, value)
}

func TestRuntime_Lookups(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	value, err := run(t, rt, "GetLookup('Rates', 'A')")
	require.NoError(t, err)
	assert.Equal(t, "0.05", value)

	value, err = run(t, rt, "GetLookup('Rates', 'Z')")
	require.NoError(t, err)
	assert.Nil(t, value)

	value, err = run(t, rt, "GetRangeLookup('Bands', 1500)")
	require.NoError(t, err)
	assert.Equal(t, "high", value)

	value, err = run(t, rt, "GetLookupNumber('Rates', 'A')")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.05").Equal(value.(decimal.Decimal)))
}

func TestRuntime_RuntimeValues(t *testing.T) {
	fc := newContext(t)
	rt := NewRuntime(newHost(t), fc)

	_, err := run(t, rt, "SetPayrunRuntimeValue('seen', 1)\nSetEmployeeRuntimeValue('bonus', 'yes')")
	require.NoError(t, err)

	value, err := run(t, rt, "GetEmployeeRuntimeValue('bonus')")
	require.NoError(t, err)
	assert.Equal(t, "yes", value)
	assert.Equal(t, map[string]any{"bonus": "yes"}, fc.RuntimeValues.EmployeeValues("E7"))

	payrunLevel := *fc
	payrunLevel.Employee = nil
	rtPayrun := NewRuntime(newHost(t), &payrunLevel)

	value, err = run(t, rtPayrun, "GetPayrunRuntimeValue('seen')")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(value.(decimal.Decimal)))

	_, err = run(t, rtPayrun, "GetEmployeeRuntimeValue('bonus')")
	require.Error(t, err)
	assert.True(t, engine.IsContractViolation(err))
}

func TestRuntime_ContractErrors(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))

	_, err := run(t, rt, "GetCaseValue('')")
	require.Error(t, err)
	assert.True(t, engine.IsContractViolation(err))

	_, err = run(t, rt, "IsWorkday('March')")
	require.Error(t, err)
	assert.True(t, engine.IsContractViolation(err))
}

func TestRuntime_Predicate(t *testing.T) {
	rt := NewRuntime(newHost(t), newContext(t))
	call := func(source string) Call {
		return Call{FunctionType: engine.FunctionCaseAvailable, Object: "Salary", Expression: engine.Starlark(source)}
	}

	ok, err := rt.Predicate(context.Background(), call(""), true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.Predicate(context.Background(), call("GetCaseValue('Salary') > 1000"), false)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rt.Predicate(context.Background(), call("'yes'"), false)
	require.Error(t, err)
	assert.True(t, engine.IsScriptFailure(err))
}

func TestRuntime_LoadScriptLibrary(t *testing.T) {
	fc := newContext(t)
	fc.Derivation = regulation.NewDerivation([]regulation.Layer{{
		Level:      1,
		Priority:   1,
		Regulation: &engine.Regulation{ID: 1, Name: "Base"},
		Objects: &engine.RegulationObjects{Scripts: []*engine.Script{{
			ObjectMeta: engine.ObjectMeta{ID: 1, RegulationID: 1, Created: date(2023, 1, 1)},
			Name:       "Rules",
			Value:      "def monthly(amount):\n    return amount / 12\n",
		}}},
	}}, regulation.Options{RegulationDate: date(2024, 3, 15)})
	rt := NewRuntime(newHost(t), fc)

	value, err := run(t, rt, "load('Rules', 'monthly')\nreturn monthly(GetCaseValue('Salary') * 12)")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5000).Equal(value.(decimal.Decimal)))
}

func TestArgs(t *testing.T) {
	args := NewArgs("F", []any{"x", decimal.NewFromInt(3), nil}, map[string]any{"name": "y"})

	s, err := args.String(0, "name")
	require.NoError(t, err)
	assert.Equal(t, "y", s, "keyword wins")

	n, err := args.Int(1, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d, err := args.OptDate(2, "date", date(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 1), d)

	_, err = args.Decimal(5, "missing")
	require.Error(t, err)
	assert.True(t, engine.IsContractViolation(err))

	list, err := NewArgs("F", []any{[]any{"a", "b"}}, nil).Strings(0, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)
}
