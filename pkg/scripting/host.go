package scripting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/telemetry"
)

// Options configures the script host.
type Options struct {
	// Timeout bounds case, collector, wage type and report scripts.
	Timeout time.Duration `yaml:"timeout"`

	// PayrunTimeout bounds payrun level scripts.
	PayrunTimeout time.Duration `yaml:"payrunTimeout"`

	// MaxSteps is the Starlark step budget per call, zero is unlimited.
	MaxSteps uint64 `yaml:"maxSteps"`

	// CELCostLimit is the CEL cost budget per call, zero is unlimited.
	CELCostLimit uint64 `yaml:"celCostLimit"`

	// WasmMemoryPages caps module memory in 64KiB pages.
	WasmMemoryPages uint32 `yaml:"wasmMemoryPages"`

	// CacheSize is the number of compiled functions kept.
	CacheSize int `yaml:"cacheSize"`
}

// DefaultOptions returns the default host options.
func DefaultOptions() Options {
	return Options{
		Timeout:         5 * time.Second,
		PayrunTimeout:   30 * time.Second,
		MaxSteps:        10_000_000,
		CELCostLimit:    1_000_000,
		WasmMemoryPages: 256,
		CacheSize:       1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.PayrunTimeout <= 0 {
		o.PayrunTimeout = d.PayrunTimeout
	}
	if o.WasmMemoryPages == 0 {
		o.WasmMemoryPages = d.WasmMemoryPages
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	return o
}

// Host compiles, caches and invokes regulation scripts with a timeout.
type Host struct {
	opts      Options
	compilers map[engine.ScriptLanguage]Compiler
	cache     *functionCache
	wasm      *WasmCompiler
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

var _ Invoker = (*Host)(nil)

// NewHost creates a host with the Starlark, CEL and WebAssembly backends.
// Metrics and tracer may be nil.
func NewHost(ctx context.Context, opts Options, logger zerolog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) (*Host, error) {
	opts = opts.withDefaults()

	wasm, err := NewWasmCompiler(ctx, opts.WasmMemoryPages)
	if err != nil {
		return nil, fmt.Errorf("failed to create wasm backend: %w", err)
	}

	h := &Host{
		opts:      opts,
		compilers: make(map[engine.ScriptLanguage]Compiler),
		cache:     newFunctionCache(opts.CacheSize),
		wasm:      wasm,
		logger:    logger.With().Str("component", "script-host").Logger(),
		metrics:   metrics,
		tracer:    tracer,
	}
	h.Register(NewStarlarkCompiler(opts.MaxSteps))
	h.Register(NewCELCompiler(opts.CELCostLimit))
	h.Register(wasm)

	return h, nil
}

// Register adds or replaces the compiler of a language.
func (h *Host) Register(c Compiler) {
	h.compilers[c.Language()] = c
}

// Close releases the WebAssembly runtime.
func (h *Host) Close(ctx context.Context) error {
	return h.wasm.Close(ctx)
}

// Invalidate drops every compiled function.
func (h *Host) Invalidate() {
	n := h.cache.len()
	h.cache.clear()
	h.logger.Debug().Int("dropped", n).Msg("Compiled function cache cleared")
}

// TimeoutFor returns the time budget of a script kind.
func (h *Host) TimeoutFor(functionType engine.FunctionType) time.Duration {
	if functionType.IsPayrun() {
		return h.opts.PayrunTimeout
	}
	return h.opts.Timeout
}

// Compile returns the cached function for an expression, compiling it on a miss.
func (h *Host) Compile(functionType engine.FunctionType, object string, expr engine.Expression) (Function, error) {
	lang := expr.Lang()
	key := cacheKey(lang, functionType, expr.Source)
	if fn, ok := h.cache.get(key); ok {
		h.metrics.RecordScriptCacheHit()
		return fn, nil
	}

	compiler, ok := h.compilers[lang]
	if !ok {
		return nil, engine.NewScriptError(functionType, object,
			fmt.Errorf("unsupported script language: %s", lang)).
			WithCode(engine.ErrCodeScriptCompile)
	}

	fn, err := compiler.Compile(functionType, expr.Source)
	if err != nil {
		h.metrics.RecordScriptCompile(string(lang), telemetry.OutcomeFailure)
		return nil, engine.NewScriptError(functionType, object, err).
			WithCode(engine.ErrCodeScriptCompile)
	}
	h.metrics.RecordScriptCompile(string(lang), telemetry.OutcomeSuccess)

	h.cache.put(key, fn)
	return fn, nil
}

type callResult struct {
	value any
	err   error
}

// Invoke runs a script and waits at most the timeout of its kind.
// An empty expression returns nil. On timeout the script is cancelled
// cooperatively; side effects it already applied through host functions stay.
func (h *Host) Invoke(ctx context.Context, inv Invocation) (any, error) {
	if inv.Expression.IsEmpty() {
		return nil, nil
	}

	fn, err := h.Compile(inv.FunctionType, inv.Object, inv.Expression)
	if err != nil {
		return nil, err
	}

	lang := string(fn.Language())
	ctx, span := h.tracer.StartScriptSpan(ctx, string(inv.FunctionType), inv.Object, lang)
	timer := telemetry.NewTimer()
	timeout := h.TimeoutFor(inv.FunctionType)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := inv.Env
	if env == nil {
		env = &Environment{}
	}

	resultCh := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{err: fmt.Errorf("script panicked: %v", r)}
			}
		}()
		value, err := fn.Call(callCtx, env)
		resultCh <- callResult{value: value, err: err}
	}()

	var res callResult
	outcome := telemetry.OutcomeSuccess
	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			res.err = fmt.Errorf("script invocation cancelled: %w", ctx.Err())
			outcome = telemetry.OutcomeFailure
			break
		}
		outcome = telemetry.OutcomeTimeout
		res.err = engine.NewScriptError(inv.FunctionType, inv.Object,
			fmt.Errorf("execution timeout after %v", timeout)).
			WithCode(engine.ErrCodeScriptTimeout)
		h.logger.Warn().
			Str("function", string(inv.FunctionType)).
			Str("object", inv.Object).
			Dur("timeout", timeout).
			Msg("Script timed out")
	case res = <-resultCh:
		if res.err != nil {
			res.err = normalize(inv.FunctionType, inv.Object, res.err)
			outcome = telemetry.OutcomeFailure
		}
	}

	duration := timer.Duration()
	h.metrics.RecordScriptInvocation(string(inv.FunctionType), lang, outcome, duration)
	if res.err != nil {
		var ee *engine.EngineError
		if errors.As(res.err, &ee) {
			h.metrics.RecordError(string(ee.Class), ee.Code)
		}
	}
	telemetry.EndSpan(span, res.err)

	h.logger.Debug().
		Str("function", string(inv.FunctionType)).
		Str("object", inv.Object).
		Str("language", lang).
		Str("outcome", outcome).
		Dur("duration", duration).
		Msg("Script invoked")

	return res.value, res.err
}

// normalize passes classified collaborator errors through and turns
// everything else into a script failure of the invocation.
func normalize(functionType engine.FunctionType, object string, err error) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		switch ee.Class {
		case engine.ErrorClassDomain, engine.ErrorClassContract, engine.ErrorClassInfrastructure:
			return ee
		case engine.ErrorClassScript:
			if ee.FunctionType == "" {
				ee.FunctionType = functionType
			}
			if ee.Object == "" {
				ee.Object = object
			}
			return ee
		}
	}
	return engine.NewScriptError(functionType, object, err)
}
