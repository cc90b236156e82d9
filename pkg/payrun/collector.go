package payrun

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// Contribution is one value applied to a collector by a wage type.
type Contribution struct {
	WageTypeNumber decimal.Decimal
	Value          decimal.Decimal
}

// Accumulators are the aggregates of the contributions of a collector.
// Seed is the start value: it is part of Summary but not a contribution.
type Accumulators struct {
	Seed    decimal.Decimal
	Count   int
	Summary decimal.Decimal
	Minimum decimal.Decimal
	Maximum decimal.Decimal
	Average decimal.Decimal
	Range   decimal.Decimal
}

func (a *Accumulators) add(v decimal.Decimal) {
	if a.Count == 0 || v.LessThan(a.Minimum) {
		a.Minimum = v
	}
	if a.Count == 0 || v.GreaterThan(a.Maximum) {
		a.Maximum = v
	}
	a.Count++
	a.Summary = a.Summary.Add(v)
	a.Average = a.Summary.Sub(a.Seed).Div(decimal.NewFromInt(int64(a.Count)))
	a.Range = a.Maximum.Sub(a.Minimum)
}

// Result returns the aggregate selected by the collect mode. Without
// contributions the value aggregates fall back to the seed.
func (a Accumulators) Result(mode engine.CollectMode) decimal.Decimal {
	if a.Count == 0 && mode != engine.CollectCount {
		return a.Seed
	}
	switch mode {
	case engine.CollectMinimum:
		return a.Minimum
	case engine.CollectMaximum:
		return a.Maximum
	case engine.CollectAverage:
		return a.Average
	case engine.CollectRange:
		return a.Range
	case engine.CollectCount:
		return decimal.NewFromInt(int64(a.Count))
	}
	return a.Summary
}

func accumulate(seed decimal.Decimal, values []Contribution) Accumulators {
	acc := Accumulators{Seed: seed, Summary: seed}
	for _, c := range values {
		acc.add(c.Value)
	}
	return acc
}

// Collector is the evaluation state of one collector for one employee:
// Start, any number of Apply calls, then End.
type Collector struct {
	derived    regulation.Derived[*engine.Collector]
	attributes *facade.Attributes

	mu     sync.Mutex
	values []Contribution
	acc    Accumulators
	result decimal.Decimal
	tags   []string
	custom []*engine.CollectorCustomResult
}

// NewCollector creates the state of a derived collector.
func NewCollector(derived regulation.Derived[*engine.Collector]) *Collector {
	return &Collector{
		derived:    derived,
		attributes: facade.NewAttributes(regulation.InheritedAttributes(derived)),
	}
}

// Name returns the collector name.
func (c *Collector) Name() string { return c.derived.Object.Name }

// Definition returns the effective collector.
func (c *Collector) Definition() *engine.Collector { return c.derived.Object }

// Result returns the current result.
func (c *Collector) Result() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Accumulators returns the current aggregates.
func (c *Collector) Accumulators() Accumulators {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc
}

// Values returns a copy of the recorded contributions.
func (c *Collector) Values() []Contribution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Contribution(nil), c.values...)
}

// Start resets the collector and runs the start script. A numeric result
// seeds the summary without counting as a contribution.
func (c *Collector) Start(ctx context.Context, rt *facade.Runtime, caps ...facade.Capability) error {
	c.mu.Lock()
	c.values = nil
	c.acc = Accumulators{}
	c.result = decimal.Zero
	c.tags = nil
	c.custom = nil
	c.mu.Unlock()

	v, err := c.invoke(ctx, rt, engine.FunctionCollectorStart, caps, nil)
	if err != nil || v == nil {
		return err
	}
	seed, err := scripting.Decimal(v)
	if err != nil {
		return engine.NewScriptError(engine.FunctionCollectorStart, c.Name(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acc = accumulate(seed, c.values)
	c.result = c.acc.Result(c.mode())
	return nil
}

// Apply adds a wage type value. It reports false when the value was
// skipped by the threshold.
func (c *Collector) Apply(ctx context.Context, rt *facade.Runtime, wageTypeNumber, value decimal.Decimal, caps ...facade.Capability) (bool, error) {
	def := c.derived.Object
	if def.Negated {
		value = value.Neg()
	}
	if def.Threshold != nil && value.LessThan(*def.Threshold) {
		return false, nil
	}

	incoming := facade.CapabilityFunc(func(b *facade.Bindings) {
		b.Value("CollectorValue", value)
		b.Value("WageTypeNumber", wageTypeNumber)
	})
	v, err := c.invoke(ctx, rt, engine.FunctionCollectorApply, caps, incoming)
	if err != nil {
		return false, err
	}
	if v != nil {
		if value, err = scripting.Decimal(v); err != nil {
			return false, engine.NewScriptError(engine.FunctionCollectorApply, c.Name(), err)
		}
	}
	c.record(wageTypeNumber, value)
	return true, nil
}

func (c *Collector) record(wageTypeNumber, value decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, Contribution{WageTypeNumber: wageTypeNumber, Value: value})
	c.acc.add(value)
	c.result = c.acc.Result(c.mode())
}

// Rollback removes the contributions of a wage type and replays the rest.
func (c *Collector) Rollback(wageTypeNumber decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.values[:0]
	for _, v := range c.values {
		if !v.WageTypeNumber.Equal(wageTypeNumber) {
			kept = append(kept, v)
		}
	}
	c.values = kept
	c.acc = accumulate(c.acc.Seed, c.values)
	c.result = c.acc.Result(c.mode())
}

// End runs the end script, which may edit the value list or override the
// result, and clamps the final result.
func (c *Collector) End(ctx context.Context, rt *facade.Runtime, caps ...facade.Capability) error {
	editing := facade.CapabilityFunc(func(b *facade.Bindings) {
		b.Func("SetCollectorValues", func(_ context.Context, args facade.Args) (any, error) {
			values, err := args.Decimals(0, "values")
			if err != nil {
				return nil, err
			}
			c.replaceValues(values)
			return nil, nil
		})
	})
	v, err := c.invoke(ctx, rt, engine.FunctionCollectorEnd, caps, editing)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	result := c.acc.Result(c.mode())
	if v != nil {
		if result, err = scripting.Decimal(v); err != nil {
			return engine.NewScriptError(engine.FunctionCollectorEnd, c.Name(), err)
		}
	}
	def := c.derived.Object
	if def.MinResult != nil && result.LessThan(*def.MinResult) {
		result = *def.MinResult
	}
	if def.MaxResult != nil && result.GreaterThan(*def.MaxResult) {
		result = *def.MaxResult
	}
	c.result = result
	return nil
}

// replaceValues swaps the value list; entries keep the wage type number of
// the position they replace.
func (c *Collector) replaceValues(values []decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]Contribution, len(values))
	for i, v := range values {
		next[i].Value = v
		if i < len(c.values) {
			next[i].WageTypeNumber = c.values[i].WageTypeNumber
		}
	}
	c.values = next
	c.acc = accumulate(c.acc.Seed, next)
	c.result = c.acc.Result(c.mode())
}

func (c *Collector) mode() engine.CollectMode {
	if c.derived.Object.CollectMode == "" {
		return engine.CollectSummary
	}
	return c.derived.Object.CollectMode
}

func (c *Collector) invoke(ctx context.Context, rt *facade.Runtime, functionType engine.FunctionType, caps []facade.Capability, extra facade.Capability) (any, error) {
	expr, _, ok := regulation.InheritedExpression(c.derived, functionType)
	if !ok {
		return nil, nil
	}
	all := append([]facade.Capability{collectorCapability{collector: c}}, caps...)
	if extra != nil {
		all = append(all, extra)
	}
	return rt.Invoke(ctx, facade.Call{
		FunctionType: functionType,
		Object:       c.Name(),
		Expression:   expr,
		Attributes:   c.attributes,
		Capabilities: all,
	})
}

// CollectorResult returns the result row of the collector.
func (c *Collector) CollectorResult(jobID int64, period engine.DatePeriod, created time.Time) *engine.CollectorResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	def := c.derived.Object
	return &engine.CollectorResult{
		ResultBase: engine.ResultBase{
			JobID:      jobID,
			Value:      c.result,
			Start:      period.Start,
			End:        period.End,
			Tags:       append([]string(nil), c.tags...),
			Attributes: c.attributes.Map(),
			Created:    created,
		},
		CollectorName: def.Name,
		CollectMode:   c.mode(),
		Negated:       def.Negated,
	}
}

// CustomResults returns the custom results added by scripts.
func (c *Collector) CustomResults(jobID int64, period engine.DatePeriod, created time.Time) []*engine.CollectorCustomResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*engine.CollectorCustomResult, len(c.custom))
	for i, r := range c.custom {
		clone := *r
		clone.JobID = jobID
		clone.Start = period.Start
		clone.End = period.End
		clone.Created = created
		out[i] = &clone
	}
	return out
}

// collectorCapability binds the state of the collector owning the script.
type collectorCapability struct {
	collector *Collector
}

func (cc collectorCapability) Bind(b *facade.Bindings) {
	c := cc.collector
	def := c.derived.Object

	c.mu.Lock()
	acc := c.acc
	result := c.result
	values := make([]any, len(c.values))
	for i, v := range c.values {
		values[i] = v.Value
	}
	c.mu.Unlock()

	b.Value("CollectorName", def.Name)
	b.Value("CollectMode", string(c.mode()))
	b.Value("Negated", def.Negated)
	b.Value("CollectorResult", result)
	b.Value("CollectorCount", acc.Count)
	b.Value("CollectorSummary", acc.Summary)
	b.Value("CollectorMinimum", acc.Minimum)
	b.Value("CollectorMaximum", acc.Maximum)
	b.Value("CollectorAverage", acc.Average)
	b.Value("CollectorRange", acc.Range)
	b.Value("CollectorValues", values)
	b.Value("CollectorThreshold", optional(def.Threshold))
	b.Value("CollectorMinResult", optional(def.MinResult))
	b.Value("CollectorMaxResult", optional(def.MaxResult))

	b.Func("AddCollectorTag", func(_ context.Context, args facade.Args) (any, error) {
		tag, err := args.String(0, "tag")
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tags = appendUnique(c.tags, tag)
		c.mu.Unlock()
		return nil, nil
	})
	b.Func("AddCollectorCustomResult", func(_ context.Context, args facade.Args) (any, error) {
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
		c.mu.Lock()
		c.custom = append(c.custom, &engine.CollectorCustomResult{
			ResultBase:    engine.ResultBase{Value: value, Tags: tags},
			CollectorName: def.Name,
			Source:        source,
		})
		c.mu.Unlock()
		return nil, nil
	})
}

func optional(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func appendUnique(values []string, s string) []string {
	for _, v := range values {
		if v == s {
			return values
		}
	}
	return append(values, s)
}
