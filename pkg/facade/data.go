package facade

import (
	"context"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// caseValues binds case value queries of the context provider.
type caseValues struct{}

func (caseValues) Bind(b *Bindings) {
	c := b.Context
	provider := c.CaseValues

	b.Func("GetCaseValue", func(ctx context.Context, args Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		date, err := args.OptDate(1, "date", c.Moment())
		if err != nil {
			return nil, err
		}
		slot, err := args.OptSlot(2, "slot")
		if err != nil {
			return nil, err
		}
		v, err := provider.ValueAt(ctx, field, date, slot)
		if err != nil || v == nil {
			return nil, err
		}
		return nativeValue(v)
	})
	b.Func("HasCaseValue", func(ctx context.Context, args Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		date, err := args.OptDate(1, "date", c.Moment())
		if err != nil {
			return nil, err
		}
		v, err := provider.ValueAt(ctx, field, date, nil)
		if err != nil {
			return nil, err
		}
		return v != nil, nil
	})
	b.Func("GetCaseValues", func(ctx context.Context, args Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		period, err := periodArgs(NewArgs("GetCaseValues", shift(args), args.kw), c.Period)
		if err != nil {
			return nil, err
		}
		values, err := provider.ValuesInPeriod(ctx, field, period)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(values))
		for _, v := range values {
			native, err := nativeValue(v)
			if err != nil {
				return nil, err
			}
			p := v.Period()
			out = append(out, map[string]any{
				"value": native,
				"start": dateValue(p.Start),
				"end":   dateValue(p.End),
				"tier":  string(v.Tier),
				"slot":  v.CaseSlot,
			})
		}
		return out, nil
	})
	b.Func("GetCaseSlots", func(ctx context.Context, args Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		return provider.Slots(ctx, field)
	})
	b.Func("GetCaseTimeline", func(ctx context.Context, args Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		period, err := periodArgs(NewArgs("GetCaseTimeline", shift(args), args.kw), c.Period)
		if err != nil {
			return nil, err
		}
		slot, err := args.OptSlot(3, "slot")
		if err != nil {
			return nil, err
		}
		segments, err := provider.Timeline(ctx, field, period, slot)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(segments))
		for _, s := range segments {
			native, err := nativeValue(s.Value)
			if err != nil {
				return nil, err
			}
			entry := map[string]any{
				"value": native,
				"start": dateValue(s.Period.Start),
				"end":   dateValue(s.Period.End),
			}
			if c.Calendar != nil {
				entry["days"] = c.Calendar.DayCount(s.Period)
			}
			out = append(out, entry)
		}
		return out, nil
	})
}

// shift drops the first positional argument.
func shift(args Args) []any {
	if len(args.pos) == 0 {
		return nil
	}
	return args.pos[1:]
}

func nativeValue(v *engine.CaseValue) (any, error) {
	native, err := v.Native()
	if err != nil {
		return nil, engine.NewDomainError("invalid case value", err).
			WithObject(v.CaseFieldName).
			WithCode(engine.ErrCodeValidation)
	}
	return native, nil
}

// lookups binds lookup queries honoring derivation.
type lookups struct{}

func (lookups) Bind(b *Bindings) {
	c := b.Context
	culture := func(args Args, i int) (string, error) {
		return args.OptString(i, "culture", c.Culture.String())
	}

	b.Func("GetLookup", func(ctx context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		key, err := args.String(1, "key")
		if err != nil {
			return nil, err
		}
		cultureName, err := culture(args, 2)
		if err != nil {
			return nil, err
		}
		tag, _ := calendar.ParseCulture(cultureName)
		value, found, err := c.Lookups.LookupValue(ctx, name, key, tag)
		if err != nil || !found {
			return nil, err
		}
		return value, nil
	})
	b.Func("GetRangeLookup", func(ctx context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		rangeValue, err := args.Decimal(1, "rangeValue")
		if err != nil {
			return nil, err
		}
		cultureName, err := culture(args, 2)
		if err != nil {
			return nil, err
		}
		tag, _ := calendar.ParseCulture(cultureName)
		value, found, err := c.Lookups.RangeLookupValue(ctx, name, rangeValue, tag)
		if err != nil || !found {
			return nil, err
		}
		return value, nil
	})
	b.Func("GetLookupNumber", func(ctx context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		key, err := args.String(1, "key")
		if err != nil {
			return nil, err
		}
		value, found, err := c.Lookups.LookupValue(ctx, name, key, c.Culture)
		if err != nil || !found {
			return nil, err
		}
		d, err := scripting.Decimal(value)
		if err != nil {
			return nil, engine.NewDomainError("lookup value is not numeric", err).
				WithObject(name).
				WithCode(engine.ErrCodeValidation)
		}
		return d, nil
	})
}
