package scripting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/telemetry"
)

func newTestHost(t *testing.T, opts Options) *Host {
	t.Helper()
	ctx := context.Background()
	h, err := NewHost(ctx, opts, zerolog.Nop(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(ctx) })
	return h
}

func invoke(t *testing.T, h *Host, source string, env *Environment) (any, error) {
	t.Helper()
	return h.Invoke(context.Background(), Invocation{
		FunctionType: engine.FunctionWageTypeValue,
		Object:       "1000",
		Expression:   engine.Starlark(source),
		Env:          env,
	})
}

func requireDecimal(t *testing.T, expected string, actual any) {
	t.Helper()
	d, ok := actual.(decimal.Decimal)
	require.True(t, ok, "expected decimal, got %T", actual)
	assert.True(t, decimal.RequireFromString(expected).Equal(d), "expected %s, got %s", expected, d)
}

func TestHost_EmptyExpression(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	value, err := invoke(t, h, "  ", nil)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestHost_TimeoutFor(t *testing.T) {
	h := newTestHost(t, Options{Timeout: time.Second, PayrunTimeout: time.Minute})

	assert.Equal(t, time.Second, h.TimeoutFor(engine.FunctionCollectorApply))
	assert.Equal(t, time.Minute, h.TimeoutFor(engine.FunctionPayrunEmployeeStart))
}

func TestHost_Timeout(t *testing.T) {
	h := newTestHost(t, Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := h.Invoke(context.Background(), Invocation{
		FunctionType: engine.FunctionCollectorApply,
		Object:       "Income",
		Expression:   engine.Starlark("for i in range(2000000000):\n    x = i\nreturn 0"),
	})
	require.Error(t, err)
	assert.True(t, engine.IsScriptFailure(err))
	assert.Equal(t, engine.ErrCodeScriptTimeout, engine.CodeOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	var ee *engine.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engine.FunctionCollectorApply, ee.FunctionType)
	assert.Equal(t, "Income", ee.Object)
}

func TestHost_ParentCancelled(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Invoke(ctx, Invocation{
		FunctionType: engine.FunctionWageTypeValue,
		Object:       "1000",
		Expression:   engine.Starlark("while True:\n    pass"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, engine.IsScriptFailure(err))
}

func TestHost_ErrorClassification(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	tests := []struct {
		name   string
		source string
		env    *Environment
		check  func(t *testing.T, err error)
	}{
		{
			name:   "runtime error becomes script failure",
			source: "1 // 0",
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsScriptFailure(err))
				assert.Equal(t, engine.ErrCodeScriptExecution, engine.CodeOf(err))
				var ee *engine.EngineError
				require.True(t, errors.As(err, &ee))
				assert.Equal(t, engine.FunctionWageTypeValue, ee.FunctionType)
				assert.Equal(t, "1000", ee.Object)
			},
		},
		{
			name:   "compile error",
			source: "def (",
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsScriptFailure(err))
				assert.Equal(t, engine.ErrCodeScriptCompile, engine.CodeOf(err))
			},
		},
		{
			name:   "domain error from host function passes through",
			source: "Fail()",
			env: &Environment{Functions: map[string]HostFunc{
				"Fail": func(context.Context, []any, map[string]any) (any, error) {
					return nil, engine.NewDomainError("retro period out of range", nil).
						WithCode(engine.ErrCodeOutOfRange)
				},
			}},
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsDomainViolation(err))
				assert.Equal(t, engine.ErrCodeOutOfRange, engine.CodeOf(err))
			},
		},
		{
			name:   "plain host error becomes script failure",
			source: "Fail()",
			env: &Environment{Functions: map[string]HostFunc{
				"Fail": func(context.Context, []any, map[string]any) (any, error) {
					return nil, errors.New("lookup unavailable")
				},
			}},
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsScriptFailure(err))
				assert.Contains(t, err.Error(), "lookup unavailable")
			},
		},
		{
			name:   "panic in host function",
			source: "Boom()",
			env: &Environment{Functions: map[string]HostFunc{
				"Boom": func(context.Context, []any, map[string]any) (any, error) {
					panic("boom")
				},
			}},
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsScriptFailure(err))
				assert.Contains(t, err.Error(), "panicked")
			},
		},
		{
			name:   "undefined name",
			source: "Missing + 1",
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsScriptFailure(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, h, tt.source, tt.env)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHost_UnsupportedLanguage(t *testing.T) {
	h := newTestHost(t, DefaultOptions())

	_, err := h.Invoke(context.Background(), Invocation{
		FunctionType: engine.FunctionCaseAvailable,
		Object:       "Salary",
		Expression:   engine.Expression{Language: "lua", Source: "return true"},
	})
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeScriptCompile, engine.CodeOf(err))
}

func TestHost_CompileCache(t *testing.T) {
	h := newTestHost(t, DefaultOptions())
	expr := engine.Starlark("1 + 1")

	first, err := h.Compile(engine.FunctionWageTypeValue, "1000", expr)
	require.NoError(t, err)
	second, err := h.Compile(engine.FunctionWageTypeValue, "1000", expr)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, h.cache.len())

	// function type is part of the key
	_, err = h.Compile(engine.FunctionWageTypeResult, "1000", expr)
	require.NoError(t, err)
	assert.Equal(t, 2, h.cache.len())

	h.Invalidate()
	assert.Equal(t, 0, h.cache.len())
}

func TestHost_Metrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	ctx := context.Background()
	h, err := NewHost(ctx, DefaultOptions(), zerolog.Nop(), metrics, nil)
	require.NoError(t, err)
	defer h.Close(ctx)

	_, err = invoke(t, h, "2 * 21", nil)
	require.NoError(t, err)
	_, err = invoke(t, h, "2 * 21", nil)
	require.NoError(t, err)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_script_invocations_total"])
	assert.True(t, names["test_script_cache_hits_total"])
}

func TestFunctionCache_Eviction(t *testing.T) {
	c := newFunctionCache(2)
	a, b, d := &celFunction{}, &celFunction{}, &celFunction{}

	c.put("a", a)
	c.put("b", b)
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("d", d)
	assert.Equal(t, 2, c.len())
	_, ok = c.get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("d")
	assert.True(t, ok)
}

func TestCacheKey(t *testing.T) {
	k1 := cacheKey(engine.LanguageStarlark, engine.FunctionWageTypeValue, "1")
	k2 := cacheKey(engine.LanguageCEL, engine.FunctionWageTypeValue, "1")
	k3 := cacheKey(engine.LanguageStarlark, engine.FunctionWageTypeValue, "1")
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, k3)
}
