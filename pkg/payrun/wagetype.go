package payrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// WageType is the evaluation state of one wage type for one employee.
type WageType struct {
	derived    regulation.Derived[*engine.WageType]
	attributes *facade.Attributes

	mu             sync.Mutex
	executionCount int
	restart        bool
	disabled       map[string]bool
	value          *decimal.Decimal
	tags           []string
	custom         []*engine.WageTypeCustomResult
}

// NewWageType creates the state of a derived wage type.
func NewWageType(derived regulation.Derived[*engine.WageType]) *WageType {
	return &WageType{
		derived:    derived,
		attributes: facade.NewAttributes(regulation.InheritedAttributes(derived)),
	}
}

// Number returns the wage type number.
func (w *WageType) Number() decimal.Decimal { return w.derived.Object.WageTypeNumber }

// Definition returns the effective wage type.
func (w *WageType) Definition() *engine.WageType { return w.derived.Object }

// ExecutionCount returns how often the value script ran.
func (w *WageType) ExecutionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.executionCount
}

// Value returns the computed value, nil when the wage type did not apply.
func (w *WageType) Value() *decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

func (w *WageType) object() string {
	return w.derived.Object.WageTypeNumber.String()
}

// targets returns the collectors the wage type feeds: the named ones and
// the members of its collector groups, minus those disabled by the script.
func (w *WageType) targets(collectors []*Collector) []*Collector {
	def := w.derived.Object
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Collector
	for _, c := range collectors {
		if w.disabled[c.Name()] {
			continue
		}
		if containsName(def.Collectors, c.Name()) || c.Definition().InGroup(def.CollectorGroups) {
			out = append(out, c)
		}
	}
	return out
}

// Evaluate runs the value phase: the value script, the collector apply
// and restarts. A nil result means the wage type does not apply.
func (w *WageType) Evaluate(ctx context.Context, rt *facade.Runtime, collectors []*Collector, maxRestarts int, caps ...facade.Capability) (*decimal.Decimal, error) {
	expr, _, ok := regulation.InheritedExpression(w.derived, engine.FunctionWageTypeValue)
	if !ok {
		return nil, nil
	}

	for {
		w.mu.Lock()
		w.executionCount++
		w.restart = false
		w.disabled = nil
		w.value = nil
		w.mu.Unlock()

		v, err := rt.Invoke(ctx, facade.Call{
			FunctionType: engine.FunctionWageTypeValue,
			Object:       w.object(),
			Expression:   expr,
			Attributes:   w.attributes,
			Capabilities: append([]facade.Capability{wageTypeCapability{wageType: w, valuePhase: true}}, caps...),
		})
		if err != nil {
			return nil, err
		}

		if v != nil {
			value, err := scripting.Decimal(v)
			if err != nil {
				return nil, engine.NewScriptError(engine.FunctionWageTypeValue, w.object(), err)
			}
			w.mu.Lock()
			w.value = &value
			w.mu.Unlock()
			for _, c := range w.targets(collectors) {
				if _, err := c.Apply(ctx, rt, w.Number(), value, caps...); err != nil {
					return nil, err
				}
			}
		}

		w.mu.Lock()
		restart, count := w.restart, w.executionCount
		w.mu.Unlock()
		if !restart {
			return w.Value(), nil
		}

		for _, c := range collectors {
			c.Rollback(w.Number())
		}
		if count > maxRestarts {
			return nil, engine.NewDomainError(
				fmt.Sprintf("wage type %s exceeded %d restarts", w.object(), maxRestarts), nil).
				WithObject(w.object()).
				WithCode(engine.ErrCodeRestartLimit)
		}
	}
}

// Finish runs the result phase. The script adds custom results, tags and
// attributes; its return value is ignored.
func (w *WageType) Finish(ctx context.Context, rt *facade.Runtime, caps ...facade.Capability) error {
	expr, _, ok := regulation.InheritedExpression(w.derived, engine.FunctionWageTypeResult)
	if !ok {
		return nil
	}
	_, err := rt.Invoke(ctx, facade.Call{
		FunctionType: engine.FunctionWageTypeResult,
		Object:       w.object(),
		Expression:   expr,
		Attributes:   w.attributes,
		Capabilities: append([]facade.Capability{wageTypeCapability{wageType: w}}, caps...),
	})
	return err
}

// WageTypeResult returns the result row, nil when the wage type did not apply.
func (w *WageType) WageTypeResult(jobID int64, period engine.DatePeriod, created time.Time) *engine.WageTypeResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.value == nil {
		return nil
	}
	def := w.derived.Object
	return &engine.WageTypeResult{
		ResultBase: engine.ResultBase{
			JobID:      jobID,
			Value:      *w.value,
			Start:      period.Start,
			End:        period.End,
			Tags:       append([]string(nil), w.tags...),
			Attributes: w.attributes.Map(),
			Created:    created,
		},
		WageTypeNumber: def.WageTypeNumber,
		WageTypeName:   def.Name,
	}
}

// CustomResults returns the custom results added by scripts.
func (w *WageType) CustomResults(jobID int64, period engine.DatePeriod, created time.Time) []*engine.WageTypeCustomResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*engine.WageTypeCustomResult, len(w.custom))
	for i, r := range w.custom {
		clone := *r
		clone.JobID = jobID
		clone.Start = period.Start
		clone.End = period.End
		clone.Created = created
		out[i] = &clone
	}
	return out
}

// wageTypeCapability binds the state of the wage type owning the script.
// Restart and collector switches exist only in the value phase.
type wageTypeCapability struct {
	wageType   *WageType
	valuePhase bool
}

func (wc wageTypeCapability) Bind(b *facade.Bindings) {
	w := wc.wageType
	def := w.derived.Object

	w.mu.Lock()
	b.Value("WageTypeNumber", def.WageTypeNumber)
	b.Value("WageTypeName", def.Name)
	b.Value("ExecutionCount", w.executionCount)
	if w.value != nil {
		b.Value("WageTypeValue", *w.value)
	} else {
		b.Value("WageTypeValue", nil)
	}
	w.mu.Unlock()

	b.Func("AddWageTypeTag", func(_ context.Context, args facade.Args) (any, error) {
		tag, err := args.String(0, "tag")
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.tags = appendUnique(w.tags, tag)
		w.mu.Unlock()
		return nil, nil
	})
	b.Func("AddWageTypeCustomResult", func(_ context.Context, args facade.Args) (any, error) {
		source, err := args.String(0, "source")
		if err != nil {
			return nil, err
		}
		value, err := args.Decimal(1, "value")
		if err != nil {
			return nil, err
		}
		tags, err := args.Strings(2, "tags")
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.custom = append(w.custom, &engine.WageTypeCustomResult{
			ResultBase:     engine.ResultBase{Value: value, Tags: tags},
			WageTypeNumber: def.WageTypeNumber,
			Source:         source,
		})
		w.mu.Unlock()
		return nil, nil
	})

	if !wc.valuePhase {
		return
	}
	b.Func("RestartExecution", func(context.Context, facade.Args) (any, error) {
		w.mu.Lock()
		w.restart = true
		w.mu.Unlock()
		return nil, nil
	})
	b.Func("DisableCollector", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		if w.disabled == nil {
			w.disabled = make(map[string]bool)
		}
		w.disabled[name] = true
		w.mu.Unlock()
		return nil, nil
	})
	b.Func("EnableCollector", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		delete(w.disabled, name)
		w.mu.Unlock()
		return nil, nil
	})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
