package scripting

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/payroll/pkg/engine"
)

// entryPoint is the function every script body is wrapped in.
const entryPoint = "__script__"

// contextLocal is the thread local holding the invocation context.
const contextLocal = "ctx"

var starlarkFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// StarlarkCompiler compiles Starlark scripts. A one-line expression is its
// own result; a script body returns its result with a return statement.
// load() statements resolve shared Script objects of the regulation.
type StarlarkCompiler struct {
	maxSteps uint64

	mu        sync.Mutex
	libraries map[[sha256.Size]byte]*starlark.Program
}

// NewStarlarkCompiler creates a Starlark compiler. maxSteps zero is unlimited.
func NewStarlarkCompiler(maxSteps uint64) *StarlarkCompiler {
	return &StarlarkCompiler{
		maxSteps:  maxSteps,
		libraries: make(map[[sha256.Size]byte]*starlark.Program),
	}
}

func (c *StarlarkCompiler) Language() engine.ScriptLanguage { return engine.LanguageStarlark }

// Compile implements Compiler.
func (c *StarlarkCompiler) Compile(functionType engine.FunctionType, source string) (Function, error) {
	prog, err := compileStarlark(string(functionType)+".star", wrapStarlark(source))
	if err != nil {
		return nil, fmt.Errorf("starlark compile failed: %w", err)
	}
	return &starlarkFunction{
		compiler:     c,
		functionType: functionType,
		program:      prog,
	}, nil
}

// library compiles a shared script once per source.
func (c *StarlarkCompiler) library(name, source string) (*starlark.Program, error) {
	key := sha256.Sum256([]byte(source))
	c.mu.Lock()
	defer c.mu.Unlock()
	if prog, ok := c.libraries[key]; ok {
		return prog, nil
	}
	prog, err := compileStarlark(name, source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script %s: %w", name, err)
	}
	c.libraries[key] = prog
	return prog, nil
}

// isPredeclared treats every non universal free name as a host binding.
// Missing bindings fail when referenced.
func isPredeclared(name string) bool {
	if _, ok := decimalBuiltins[name]; ok {
		return true
	}
	_, universal := starlark.Universe[name]
	return !universal
}

// wrapStarlark turns a script into a function so that it can return a value.
func wrapStarlark(source string) string {
	trimmed := strings.TrimSpace(source)
	if !strings.Contains(trimmed, "\n") {
		if _, err := starlarkFileOptions.ParseExpr("expr.star", trimmed, 0); err == nil {
			return "def " + entryPoint + "():\n    return (" + trimmed + ")\n"
		}
	}

	var loads, body strings.Builder
	for _, line := range strings.Split(source, "\n") {
		if strings.HasPrefix(line, "load(") {
			loads.WriteString(line)
			loads.WriteByte('\n')
			continue
		}
		body.WriteString("    ")
		body.WriteString(line)
		body.WriteByte('\n')
	}
	return loads.String() + "def " + entryPoint + "():\n" + body.String() + "    pass\n"
}

type starlarkFunction struct {
	compiler     *StarlarkCompiler
	functionType engine.FunctionType
	program      *starlark.Program
}

func (f *starlarkFunction) Language() engine.ScriptLanguage { return engine.LanguageStarlark }

// Call implements Function.
func (f *starlarkFunction) Call(ctx context.Context, env *Environment) (any, error) {
	call := &starlarkCall{
		ctx:      ctx,
		env:      env,
		compiler: f.compiler,
		modules:  make(map[string]*starlarkModule),
	}
	predeclared, err := call.predeclared()
	if err != nil {
		return nil, err
	}
	call.globals = predeclared

	thread := &starlark.Thread{
		Name: string(f.functionType),
		Print: func(_ *starlark.Thread, msg string) {
			if env.Print != nil {
				env.Print(msg)
			}
		},
		Load: call.load,
	}
	thread.SetLocal(contextLocal, ctx)
	if f.compiler.maxSteps > 0 {
		thread.SetMaxExecutionSteps(f.compiler.maxSteps)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	globals, err := f.program.Init(thread, predeclared)
	if err != nil {
		return nil, call.failure(err)
	}
	result, err := starlark.Call(thread, globals[entryPoint], nil, nil)
	if err != nil {
		return nil, call.failure(err)
	}
	return fromStarlark(result)
}

type starlarkModule struct {
	globals starlark.StringDict
	err     error
}

// starlarkCall is the state of one invocation.
type starlarkCall struct {
	ctx      context.Context
	env      *Environment
	compiler *StarlarkCompiler
	globals  starlark.StringDict
	modules  map[string]*starlarkModule
	hostErr  error
}

func (c *starlarkCall) predeclared() (starlark.StringDict, error) {
	dict := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"round":  starlark.NewBuiltin("round", starlarkRound),

		numberBuiltin: starlark.NewBuiltin(numberBuiltin, starlarkNumber),
	}
	for name := range decimalBuiltins {
		dict[name] = decimalAware(name)
	}
	for name, value := range c.env.Values {
		v, err := toStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		dict[name] = v
	}
	for name, fn := range c.env.Functions {
		dict[name] = c.builtin(name, fn)
	}
	return dict, nil
}

func (c *starlarkCall) builtin(name string, fn HostFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		goArgs := make([]any, len(args))
		for i, a := range args {
			v, err := fromStarlark(a)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", name, i+1, err)
			}
			goArgs[i] = v
		}
		var goKwargs map[string]any
		if len(kwargs) > 0 {
			goKwargs = make(map[string]any, len(kwargs))
			for _, kv := range kwargs {
				v, err := fromStarlark(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: argument %s: %w", name, kv[0], err)
				}
				goKwargs[string(kv[0].(starlark.String))] = v
			}
		}

		result, err := fn(c.ctx, goArgs, goKwargs)
		if err != nil {
			if c.hostErr == nil {
				c.hostErr = err
			}
			return nil, err
		}
		return toStarlark(result)
	})
}

// load resolves load("name", ...) against the shared scripts of the environment.
func (c *starlarkCall) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	m, seen := c.modules[module]
	if m != nil {
		return m.globals, m.err
	}
	if seen {
		return nil, fmt.Errorf("cycle in load graph at %s", module)
	}
	c.modules[module] = nil

	m = &starlarkModule{}
	source, ok := "", false
	if c.env.Modules != nil {
		source, ok = c.env.Modules(module)
	}
	if !ok {
		m.err = fmt.Errorf("script %s not found", module)
	} else if prog, err := c.compiler.library(module, source); err != nil {
		m.err = err
	} else {
		m.globals, m.err = prog.Init(thread, c.globals)
		m.globals.Freeze()
	}
	c.modules[module] = m
	return m.globals, m.err
}

// failure prefers the error raised by a host function over the evaluation
// error wrapping it.
func (c *starlarkCall) failure(err error) error {
	if c.hostErr != nil {
		return c.hostErr
	}
	return err
}

func starlarkRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	places := 2
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value, "places?", &places); err != nil {
		return nil, err
	}
	v, err := fromStarlark(value)
	if err != nil {
		return nil, err
	}
	d, err := Decimal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return toStarlark(d.Round(int32(places)))
}

// toStarlark converts a host value. Decimals stay exact.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case decimal.Decimal:
		return starlarkDecimal{val}, nil
	case *decimal.Decimal:
		if val == nil {
			return starlark.None, nil
		}
		return toStarlark(*val)
	case time.Time:
		return starlark.String(FormatDate(val)), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []decimal.Decimal:
		list := make([]starlark.Value, len(val))
		for i, d := range val {
			item, _ := toStarlark(d)
			list[i] = item
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlark(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, s := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(s)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

// fromStarlark converts a script value. Numbers become decimals.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlarkDecimal:
		return val.d, nil
	case starlark.Int:
		return decimal.NewFromBigInt(val.BigInt(), 0), nil
	case starlark.Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v is not finite", f)
		}
		return decimal.NewFromFloat(f), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkIterable(val, val.Len())
	case starlark.Tuple:
		return fromStarlarkIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
}

func fromStarlarkIterable(iterable starlark.Iterable, size int) ([]any, error) {
	list := make([]any, 0, size)
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlark(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}
