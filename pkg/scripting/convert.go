package scripting

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal converts a script or host value to a decimal.
func Decimal(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero, fmt.Errorf("value is nil")
		}
		return *val, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case uint64:
		return decimal.NewFromUint64(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, fmt.Errorf("value is not a finite number")
		}
		return decimal.NewFromFloat(val), nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("value %q is not numeric", val)
		}
		return d, nil
	case bool:
		if val {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("value of type %T is not numeric", v)
}

// Date parses a "YYYY-MM-DD" script argument. time.Time passes through.
func Date(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		t, err := time.Parse(time.DateOnly, val)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", val)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("value of type %T is not a date", v)
}

// String returns a string argument.
func String(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("value of type %T is not a string", v)
	}
	return s, nil
}

// Bool interprets a script result as a predicate. nil is false.
func Bool(v any) (bool, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	}
	return false, fmt.Errorf("value of type %T is not a boolean", v)
}

// FormatDate renders a date for scripts.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// float converts a value to float64 for backends without decimals.
func float(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if t, ok := v.(time.Time); ok {
		return float64(t.Unix()), true
	}
	d, err := Decimal(v)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
