package scripting

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/payroll/pkg/engine"
)

func TestStarlark_ExpressionAndBody(t *testing.T) {
	h := newTestHost(t, DefaultOptions())
	env := &Environment{Values: map[string]any{
		"Salary": decimal.RequireFromString("1000.5"),
		"Rate":   decimal.NewFromInt(2),
	}}

	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{name: "expression", source: "Salary * Rate", expected: "2001"},
		{name: "integer arithmetic", source: "Rate + 40", expected: "42"},
		{name: "body with return", source: "x = Salary * 2\nif x > 2000:\n    return x - 1\nreturn x", expected: "2000"},
		{name: "round default places", source: "round(2.345)", expected: "2.35"},
		{name: "round places", source: "round(Salary / 3, places=1)", expected: "333.5"},
		{name: "struct", source: "struct(amount=7).amount", expected: "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := invoke(t, h, tt.source, env)
			require.NoError(t, err)
			requireDecimal(t, tt.expected, value)
		})
	}
}

func TestStarlark_DecimalArithmetic(t *testing.T) {
	h := newTestHost(t, DefaultOptions())
	env := &Environment{Values: map[string]any{
		"A":   decimal.RequireFromString("0.10"),
		"B":   decimal.RequireFromString("0.20"),
		"Big": decimal.RequireFromString("12345678901234.57"),
	}}

	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{name: "decimal sum", source: "A + B", expected: "0.3"},
		{name: "large sum", source: "Big + A", expected: "12345678901234.67"},
		{name: "int operand", source: "A * 3", expected: "0.3"},
		{name: "float literal on the left", source: "0.1 + A", expected: "0.2"},
		{name: "negation", source: "-A", expected: "-0.1"},
		{name: "division", source: "B / A", expected: "2"},
		{name: "floor division", source: "Big - Big // 1", expected: "0.57"},
		{name: "modulo", source: "-B % 0.15", expected: "0.1"},
		{name: "abs", source: "abs(A - B)", expected: "0.1"},
		{name: "int conversion", source: "int(Big)", expected: "12345678901234"},
		{name: "int index", source: "[A, B][int(B * 5)]", expected: "0.2"},
		{name: "round", source: "round(Big * 3, places=1)", expected: "37037036703703.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := invoke(t, h, tt.source, env)
			require.NoError(t, err)
			requireDecimal(t, tt.expected, value)
		})
	}

	value, err := invoke(t, h, "str(A + B)", env)
	require.NoError(t, err)
	assert.Equal(t, "0.3", value)

	_, err = invoke(t, h, "A / 0", env)
	require.Error(t, err)
	assert.True(t, engine.IsScriptFailure(err))
}

func TestStarlark_DecimalComparison(t *testing.T) {
	h := newTestHost(t, DefaultOptions())
	env := &Environment{Values: map[string]any{
		"A":    decimal.RequireFromString("0.10"),
		"Zero": decimal.Zero,
	}}

	for source, expected := range map[string]bool{
		"A > 0":            true,
		"0 < A":            true,
		"A == 0.1":         true,
		"A != 0.1":         false,
		"A >= 0.2":         false,
		"Zero == 0":        true,
		"'x' == 'x'":       true,
		"A == 'A'":         false,
		"[1, 2] == [1, 2]": true,
		"bool(Zero)":       false,
	} {
		value, err := invoke(t, h, source, env)
		require.NoError(t, err, source)
		assert.Equal(t, expected, value, source)
	}
}

func TestStarlark_BodyWithoutReturn(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	value, err := invoke(t, h, "x = 1\ny = x + 1", nil)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestStarlark_ResultTypes(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	value, err := invoke(t, h, "'CH'", nil)
	require.NoError(t, err)
	assert.Equal(t, "CH", value)

	value, err = invoke(t, h, "1 < 2", nil)
	require.NoError(t, err)
	assert.Equal(t, true, value)

	value, err = invoke(t, h, "[1, 'a']", nil)
	require.NoError(t, err)
	list, ok := value.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	requireDecimal(t, "1", list[0])
	assert.Equal(t, "a", list[1])

	value, err = invoke(t, h, "{'a': None}", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": nil}, value)

	_, err = invoke(t, h, "{1: 2}", nil)
	require.Error(t, err)
}

func TestStarlark_HostFunctions(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	var gotArgs []any
	var gotKwargs map[string]any
	env := &Environment{Functions: map[string]HostFunc{
		"CaseValue": func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
			gotArgs, gotKwargs = args, kwargs
			return decimal.NewFromInt(5000), nil
		},
	}}

	value, err := invoke(t, h, "CaseValue('Salary', date='2024-01-31') / 10", env)
	require.NoError(t, err)
	requireDecimal(t, "500", value)
	assert.Equal(t, []any{"Salary"}, gotArgs)
	assert.Equal(t, map[string]any{"date": "2024-01-31"}, gotKwargs)
}

func TestStarlark_Load(t *testing.T) {
	h := newTestHost(t, DefaultOptions())
	modules := map[string]string{
		"Rules": "def double(x):\n    return x * 2\n\nfactor = Factor\n",
	}
	env := &Environment{
		Values: map[string]any{"Factor": decimal.NewFromInt(3)},
		Modules: func(name string) (string, bool) {
			src, ok := modules[name]
			return src, ok
		},
	}

	value, err := invoke(t, h, "load('Rules', 'double', 'factor')\nreturn double(21) + factor", env)
	require.NoError(t, err)
	requireDecimal(t, "45", value)

	_, err = invoke(t, h, "load('Missing', 'x')\nreturn x", env)
	require.Error(t, err)
	assert.True(t, engine.IsScriptFailure(err))
	assert.Contains(t, err.Error(), "script Missing not found")
}

func TestStarlark_Print(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	var printed []string
	env := &Environment{Print: func(msg string) { printed = append(printed, msg) }}

	_, err := invoke(t, h, "print('hello')\nreturn 1", env)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, printed)
}

func TestStarlark_StepBudget(t *testing.T) {
	h := newTestHost(t, Options{MaxSteps: 1000})

	_, err := invoke(t, h, "for i in range(100000):\n    x = i\nreturn 0", nil)
	require.Error(t, err)
	assert.True(t, engine.IsScriptFailure(err))
	assert.Equal(t, engine.ErrCodeScriptExecution, engine.CodeOf(err))
}

func TestWrapStarlark(t *testing.T) {
	assert.Equal(t, "def __script__():\n    return (1 + 2)\n", wrapStarlark(" 1 + 2 "))

	wrapped := wrapStarlark("load('Rules', 'f')\nreturn f()")
	assert.Equal(t, "load('Rules', 'f')\ndef __script__():\n    return f()\n    pass\n", wrapped)
}
