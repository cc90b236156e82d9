package scripting

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// numberBuiltin coerces comparison operands so that decimals compare with
// int and float literals. Every comparison of a compiled script calls it.
const numberBuiltin = "__number__"

// starlarkDecimal is an exact decimal number inside Starlark. Host decimals
// enter scripts as starlarkDecimal and arithmetic with int and float values
// stays decimal.
type starlarkDecimal struct {
	d decimal.Decimal
}

var (
	_ starlark.HasBinary      = starlarkDecimal{}
	_ starlark.HasUnary       = starlarkDecimal{}
	_ starlark.TotallyOrdered = starlarkDecimal{}
)

func (x starlarkDecimal) String() string       { return x.d.String() }
func (x starlarkDecimal) Type() string         { return "decimal" }
func (x starlarkDecimal) Freeze()              {}
func (x starlarkDecimal) Truth() starlark.Bool { return starlark.Bool(!x.d.IsZero()) }

func (x starlarkDecimal) Hash() (uint32, error) {
	return starlark.String(x.d.String()).Hash()
}

func (x starlarkDecimal) Cmp(y starlark.Value, _ int) (int, error) {
	other, ok := y.(starlarkDecimal)
	if !ok {
		return 0, fmt.Errorf("cannot compare decimal with %s", y.Type())
	}
	return x.d.Cmp(other.d), nil
}

func (x starlarkDecimal) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	other, ok := decimalOperand(y)
	if !ok {
		return nil, nil
	}
	l, r := x.d, other
	if side == starlark.Right {
		l, r = r, l
	}
	switch op {
	case syntax.PLUS:
		return starlarkDecimal{l.Add(r)}, nil
	case syntax.MINUS:
		return starlarkDecimal{l.Sub(r)}, nil
	case syntax.STAR:
		return starlarkDecimal{l.Mul(r)}, nil
	case syntax.SLASH, syntax.SLASHSLASH, syntax.PERCENT:
		if r.IsZero() {
			return nil, errors.New("decimal division by zero")
		}
		switch op {
		case syntax.SLASH:
			return starlarkDecimal{l.Div(r)}, nil
		case syntax.SLASHSLASH:
			return starlarkDecimal{l.Sub(floorMod(l, r)).Div(r).Round(0)}, nil
		default:
			return starlarkDecimal{floorMod(l, r)}, nil
		}
	}
	return nil, nil
}

func (x starlarkDecimal) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return starlarkDecimal{x.d.Neg()}, nil
	case syntax.PLUS:
		return x, nil
	}
	return nil, nil
}

// floorMod is the remainder with the sign of the divisor.
func floorMod(l, r decimal.Decimal) decimal.Decimal {
	m := l.Mod(r)
	if !m.IsZero() && m.Sign() != r.Sign() {
		m = m.Add(r)
	}
	return m
}

// decimalOperand converts a numeric Starlark value. Floats convert through
// their shortest representation, so the literal 0.1 is exactly 0.1.
func decimalOperand(v starlark.Value) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case starlarkDecimal:
		return val.d, true
	case starlark.Int:
		return decimal.NewFromBigInt(val.BigInt(), 0), true
	case starlark.Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(f), true
	}
	return decimal.Decimal{}, false
}

func starlarkNumber(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, fmt.Errorf("%s: expected one argument", b.Name())
	}
	if d, ok := decimalOperand(args[0]); ok {
		return starlarkDecimal{d}, nil
	}
	return args[0], nil
}

// decimalBuiltins replace the universal builtins that reject decimals.
var decimalBuiltins = map[string]func(decimal.Decimal) starlark.Value{
	"abs":   func(d decimal.Decimal) starlark.Value { return starlarkDecimal{d.Abs()} },
	"int":   func(d decimal.Decimal) starlark.Value { return starlark.MakeBigInt(d.Truncate(0).BigInt()) },
	"float": func(d decimal.Decimal) starlark.Value { return starlark.Float(d.InexactFloat64()) },
}

func decimalAware(name string) *starlark.Builtin {
	universal := starlark.Universe[name]
	convert := decimalBuiltins[name]
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) == 1 && len(kwargs) == 0 {
			if x, ok := args[0].(starlarkDecimal); ok {
				return convert(x.d), nil
			}
		}
		return starlark.Call(thread, universal, args, kwargs)
	})
}

// compileStarlark parses a script and routes its comparison operands
// through the number coercion before compiling.
func compileStarlark(filename, source string) (*starlark.Program, error) {
	f, err := starlarkFileOptions.Parse(filename, source, 0)
	if err != nil {
		return nil, err
	}
	syntax.Walk(f, func(n syntax.Node) bool {
		if e, ok := n.(*syntax.BinaryExpr); ok && isComparison(e.Op) {
			e.X = numberCall(e.X)
			e.Y = numberCall(e.Y)
		}
		return true
	})
	return starlark.FileProgram(f, isPredeclared)
}

func isComparison(op syntax.Token) bool {
	switch op {
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.LE, syntax.GT, syntax.GE:
		return true
	}
	return false
}

func numberCall(x syntax.Expr) syntax.Expr {
	start, end := x.Span()
	return &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: start, Name: numberBuiltin},
		Lparen: start,
		Args:   []syntax.Expr{x},
		Rparen: end,
	}
}
