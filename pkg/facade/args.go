package facade

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// Args gives typed access to the arguments of a host function call.
// A keyword argument wins over the positional argument at the same index.
// Missing or malformed arguments are contract errors.
type Args struct {
	function string
	pos      []any
	kw       map[string]any
}

// NewArgs wraps the raw arguments of a call to the named function.
func NewArgs(function string, args []any, kwargs map[string]any) Args {
	return Args{function: function, pos: args, kw: kwargs}
}

// Len returns the number of positional arguments.
func (a Args) Len() int { return len(a.pos) }

// Raw returns an argument as passed by the script. A nil value counts as missing.
func (a Args) Raw(i int, key string) (any, bool) {
	if v, ok := a.kw[key]; ok && v != nil {
		return v, true
	}
	if i >= 0 && i < len(a.pos) && a.pos[i] != nil {
		return a.pos[i], true
	}
	return nil, false
}

func (a Args) missing(key string) error {
	return engine.NewContractError(fmt.Sprintf("%s: argument %s is required", a.function, key), nil).
		WithCode(engine.ErrCodeValidation)
}

func (a Args) invalid(key string, err error) error {
	return engine.NewContractError(fmt.Sprintf("%s: invalid argument %s", a.function, key), err).
		WithCode(engine.ErrCodeValidation)
}

// String returns a required, non blank string argument.
func (a Args) String(i int, key string) (string, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return "", a.missing(key)
	}
	s, err := scripting.String(v)
	if err != nil {
		return "", a.invalid(key, err)
	}
	if strings.TrimSpace(s) == "" {
		return "", a.missing(key)
	}
	return s, nil
}

// OptString returns a string argument or def when missing.
func (a Args) OptString(i int, key, def string) (string, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return def, nil
	}
	s, err := scripting.String(v)
	if err != nil {
		return "", a.invalid(key, err)
	}
	return s, nil
}

// OptSlot returns an optional string argument as a pointer, nil when missing.
func (a Args) OptSlot(i int, key string) (*string, error) {
	if _, ok := a.Raw(i, key); !ok {
		return nil, nil
	}
	s, err := a.OptString(i, key, "")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Decimal returns a required numeric argument.
func (a Args) Decimal(i int, key string) (decimal.Decimal, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return decimal.Zero, a.missing(key)
	}
	d, err := scripting.Decimal(v)
	if err != nil {
		return decimal.Zero, a.invalid(key, err)
	}
	return d, nil
}

// OptDecimal returns a numeric argument, nil when missing.
func (a Args) OptDecimal(i int, key string) (*decimal.Decimal, error) {
	if _, ok := a.Raw(i, key); !ok {
		return nil, nil
	}
	d, err := a.Decimal(i, key)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Int returns a required integral argument.
func (a Args) Int(i int, key string) (int, error) {
	d, err := a.Decimal(i, key)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, a.invalid(key, fmt.Errorf("%s is not an integer", d))
	}
	return int(d.IntPart()), nil
}

// OptInt returns an integral argument or def when missing.
func (a Args) OptInt(i int, key string, def int) (int, error) {
	if _, ok := a.Raw(i, key); !ok {
		return def, nil
	}
	return a.Int(i, key)
}

// Date returns a required "YYYY-MM-DD" argument.
func (a Args) Date(i int, key string) (time.Time, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return time.Time{}, a.missing(key)
	}
	t, err := scripting.Date(v)
	if err != nil {
		return time.Time{}, a.invalid(key, err)
	}
	return t, nil
}

// OptDate returns a date argument or def when missing.
func (a Args) OptDate(i int, key string, def time.Time) (time.Time, error) {
	if _, ok := a.Raw(i, key); !ok {
		return def, nil
	}
	return a.Date(i, key)
}

// Bool returns a boolean argument or def when missing.
func (a Args) Bool(i int, key string, def bool) (bool, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return def, nil
	}
	b, err := scripting.Bool(v)
	if err != nil {
		return false, a.invalid(key, err)
	}
	return b, nil
}

// Strings returns a list of strings, nil when missing. A single string is
// accepted as a list of one.
func (a Args) Strings(i int, key string) ([]string, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, err := scripting.String(item)
			if err != nil {
				return nil, a.invalid(key, err)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, a.invalid(key, fmt.Errorf("value of type %T is not a list", v))
}

// Decimals returns a list of numbers, nil when missing.
func (a Args) Decimals(i int, key string) ([]decimal.Decimal, error) {
	v, ok := a.Raw(i, key)
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, a.invalid(key, fmt.Errorf("value of type %T is not a list", v))
	}
	out := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		d, err := scripting.Decimal(item)
		if err != nil {
			return nil, a.invalid(key, err)
		}
		out = append(out, d)
	}
	return out, nil
}
