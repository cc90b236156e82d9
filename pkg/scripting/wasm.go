package scripting

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openfroyo/payroll/pkg/engine"
)

const (
	// wasmHostModule is the import module name of the host functions.
	wasmHostModule = "payroll"

	// wasmEntryPoint is the export a script module must provide: () -> f64.
	wasmEntryPoint = "value"
)

// WasmCompiler runs base64 encoded WebAssembly modules. A module exports
// value() -> f64 where NaN means no value, and may import from "payroll":
//
//	value(namePtr, nameLen i32) -> f64
//	call(namePtr, nameLen, argPtr, argLen i32) -> f64
//
// value reads a numeric environment value; call invokes a host function with
// a single string argument.
type WasmCompiler struct {
	runtime wazero.Runtime
}

type wasmCallKey struct{}

// wasmCall is the per invocation state seen by host functions.
type wasmCall struct {
	env     *Environment
	hostErr error
}

func (c *wasmCall) fail(err error) float64 {
	if c.hostErr == nil {
		c.hostErr = err
	}
	return math.NaN()
}

// NewWasmCompiler creates the shared runtime and instantiates the host module.
func NewWasmCompiler(ctx context.Context, memoryPages uint32) (*WasmCompiler, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memoryPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	builder := runtime.NewHostModuleBuilder(wasmHostModule)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) float64 {
			call, ok := ctx.Value(wasmCallKey{}).(*wasmCall)
			if !ok {
				return math.NaN()
			}
			name, err := readString(mod, namePtr, nameLen)
			if err != nil {
				return call.fail(err)
			}
			v, found := call.env.Values[name]
			if !found {
				return call.fail(fmt.Errorf("unknown value %q", name))
			}
			f, ok := float(v)
			if !ok {
				return math.NaN()
			}
			return f
		}).
		Export("value")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, argPtr, argLen uint32) float64 {
			call, ok := ctx.Value(wasmCallKey{}).(*wasmCall)
			if !ok {
				return math.NaN()
			}
			name, err := readString(mod, namePtr, nameLen)
			if err != nil {
				return call.fail(err)
			}
			arg, err := readString(mod, argPtr, argLen)
			if err != nil {
				return call.fail(err)
			}
			fn, found := call.env.Functions[name]
			if !found {
				return call.fail(fmt.Errorf("unknown function %q", name))
			}
			var args []any
			if arg != "" {
				args = []any{arg}
			}
			result, err := fn(ctx, args, nil)
			if err != nil {
				return call.fail(err)
			}
			f, ok := float(result)
			if !ok {
				return math.NaN()
			}
			return f
		}).
		Export("call")

	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	return &WasmCompiler{runtime: runtime}, nil
}

func (c *WasmCompiler) Language() engine.ScriptLanguage { return engine.LanguageWasm }

// Compile decodes and compiles a module. It must export value.
func (c *WasmCompiler) Compile(_ engine.FunctionType, source string) (Function, error) {
	binary, err := base64.StdEncoding.DecodeString(strings.TrimSpace(source))
	if err != nil {
		return nil, fmt.Errorf("failed to decode wasm module: %w", err)
	}

	compiled, err := c.runtime.CompileModule(context.Background(), binary)
	if err != nil {
		return nil, fmt.Errorf("failed to compile wasm module: %w", err)
	}
	if _, ok := compiled.ExportedFunctions()[wasmEntryPoint]; !ok {
		return nil, fmt.Errorf("wasm module does not export %q", wasmEntryPoint)
	}

	return &wasmFunction{runtime: c.runtime, compiled: compiled}, nil
}

// Close releases the runtime and every compiled module.
func (c *WasmCompiler) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

type wasmFunction struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

func (f *wasmFunction) Language() engine.ScriptLanguage { return engine.LanguageWasm }

// Call instantiates a fresh anonymous module and calls its entry point.
func (f *wasmFunction) Call(ctx context.Context, env *Environment) (any, error) {
	call := &wasmCall{env: env}
	ctx = context.WithValue(ctx, wasmCallKey{}, call)

	mod, err := f.runtime.InstantiateModule(ctx, f.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate wasm module: %w", err)
	}
	defer mod.Close(ctx)

	results, err := mod.ExportedFunction(wasmEntryPoint).Call(ctx)
	if call.hostErr != nil {
		return nil, call.hostErr
	}
	if err != nil {
		return nil, fmt.Errorf("wasm call failed: %w", err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("wasm %s returned %d results, expected 1", wasmEntryPoint, len(results))
	}

	value := api.DecodeF64(results[0])
	if math.IsNaN(value) {
		return nil, nil
	}
	return Decimal(value)
}

func readString(mod api.Module, ptr, length uint32) (string, error) {
	mem := mod.Memory()
	if mem == nil {
		return "", fmt.Errorf("wasm module has no memory")
	}
	b, ok := mem.Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("memory read out of range: %d+%d", ptr, length)
	}
	return string(b), nil
}
