package scripting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
)

// celInterruptFrequency is how many comprehension iterations run between
// context checks.
const celInterruptFrequency = 100

// CELCompiler compiles side effect free CEL expressions. Numbers are
// doubles inside CEL; host functions are callable with up to three arguments.
type CELCompiler struct {
	base      *cel.Env
	costLimit uint64
}

// NewCELCompiler creates a CEL compiler. costLimit zero is unlimited.
func NewCELCompiler(costLimit uint64) *CELCompiler {
	base, err := cel.NewEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return &CELCompiler{base: base, costLimit: costLimit}
}

func (c *CELCompiler) Language() engine.ScriptLanguage { return engine.LanguageCEL }

// Compile parses the expression. Type checking happens per call against the
// bindings of the environment.
func (c *CELCompiler) Compile(_ engine.FunctionType, source string) (Function, error) {
	ast, issues := c.base.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel parse failed: %w", issues.Err())
	}
	return &celFunction{compiler: c, ast: ast}, nil
}

type celFunction struct {
	compiler *CELCompiler
	ast      *cel.Ast
}

func (f *celFunction) Language() engine.ScriptLanguage { return engine.LanguageCEL }

type celCall struct {
	ctx     context.Context
	hostErr error
}

// Call implements Function.
func (f *celFunction) Call(ctx context.Context, env *Environment) (any, error) {
	call := &celCall{ctx: ctx}

	names := make([]string, 0, len(env.Values))
	for name := range env.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]cel.EnvOption, 0, len(names)+len(env.Functions))
	activation := make(map[string]any, len(names))
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
		activation[name] = toCEL(env.Values[name])
	}
	for name, fn := range env.Functions {
		opts = append(opts, call.function(name, fn))
	}

	celEnv, err := f.compiler.base.Extend(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL environment: %w", err)
	}
	checked, issues := celEnv.Check(f.ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel check failed: %w", issues.Err())
	}

	programOpts := []cel.ProgramOption{
		cel.EvalOptions(cel.OptTrackState),
		cel.InterruptCheckFrequency(celInterruptFrequency),
	}
	if f.compiler.costLimit > 0 {
		programOpts = append(programOpts, cel.CostLimit(f.compiler.costLimit))
	}
	prg, err := celEnv.Program(checked, programOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if call.hostErr != nil {
		return nil, call.hostErr
	}
	if err != nil {
		return nil, fmt.Errorf("cel evaluation failed: %w", err)
	}
	return fromCEL(out)
}

// function declares a host function with dynamic overloads of arity zero to three.
func (c *celCall) function(name string, fn HostFunc) cel.EnvOption {
	invoke := func(args ...ref.Val) ref.Val {
		goArgs := make([]any, len(args))
		for i, a := range args {
			v, err := fromCEL(a)
			if err != nil {
				return types.WrapErr(err)
			}
			goArgs[i] = v
		}
		result, err := fn(c.ctx, goArgs, nil)
		if err != nil {
			if c.hostErr == nil {
				c.hostErr = err
			}
			return types.WrapErr(err)
		}
		return types.DefaultTypeAdapter.NativeToValue(toCEL(result))
	}

	return cel.Function(name,
		cel.Overload(name+"_0", nil, cel.DynType,
			cel.FunctionBinding(invoke)),
		cel.Overload(name+"_1", []*cel.Type{cel.DynType}, cel.DynType,
			cel.UnaryBinding(func(a ref.Val) ref.Val { return invoke(a) })),
		cel.Overload(name+"_2", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
			cel.BinaryBinding(func(a, b ref.Val) ref.Val { return invoke(a, b) })),
		cel.Overload(name+"_3", []*cel.Type{cel.DynType, cel.DynType, cel.DynType}, cel.DynType,
			cel.FunctionBinding(invoke)),
	)
}

// toCEL converts a host value to a native value CEL understands.
func toCEL(v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.InexactFloat64()
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return val.InexactFloat64()
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case time.Time:
		return FormatDate(val)
	case []decimal.Decimal:
		list := make([]any, len(val))
		for i, d := range val {
			list[i] = d.InexactFloat64()
		}
		return list
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			list[i] = toCEL(item)
		}
		return list
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = toCEL(item)
		}
		return m
	}
	return v
}

// fromCEL converts a CEL value. Numbers become decimals.
func fromCEL(v ref.Val) (any, error) {
	if types.IsError(v) {
		return nil, fmt.Errorf("%v", v)
	}
	switch val := v.(type) {
	case types.Null:
		return nil, nil
	case types.Bool:
		return bool(val), nil
	case types.Int:
		return decimal.NewFromInt(int64(val)), nil
	case types.Uint:
		return decimal.NewFromUint64(uint64(val)), nil
	case types.Double:
		return Decimal(float64(val))
	case types.String:
		return string(val), nil
	case traits.Mapper:
		m := make(map[string]any)
		it := val.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			item, _ := val.Find(key)
			converted, err := fromCEL(item)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprint(key.Value())] = converted
		}
		return m, nil
	case traits.Lister:
		var list []any
		it := val.Iterator()
		for it.HasNext() == types.True {
			converted, err := fromCEL(it.Next())
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return list, nil
	}
	return v.Value(), nil
}
