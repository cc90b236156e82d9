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
	"github.com/openfroyo/payroll/pkg/telemetry"
)

// Evaluator computes the payroll result of one employee in strict phase
// order: collector start, wage type values with interleaved collector
// apply, collector end, wage type results.
type Evaluator struct {
	runtime    *facade.Runtime
	derivation *regulation.Derivation
	payrun     *engine.Payrun
	queries    *ResultQueries
	retro      *RetroScheduler
	opts       Options
	metrics    *telemetry.Metrics

	collectors []*Collector
	byName     map[string]*Collector

	mu            sync.Mutex
	evaluated     []*WageType
	payrunResults []*engine.PayrunResult
}

// EvaluatorConfig holds the collaborators of an Evaluator. Payrun, Queries,
// Retro and Metrics are optional.
type EvaluatorConfig struct {
	Runtime *facade.Runtime
	Payrun  *engine.Payrun
	Queries *ResultQueries
	Retro   *RetroScheduler
	Options Options
	Metrics *telemetry.Metrics
}

// NewEvaluator creates an evaluator over the derivation of the runtime context.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	d := cfg.Runtime.Context().Derivation
	e := &Evaluator{
		runtime:    cfg.Runtime,
		derivation: d,
		payrun:     cfg.Payrun,
		queries:    cfg.Queries,
		retro:      cfg.Retro,
		opts:       cfg.Options.withDefaults(),
		metrics:    cfg.Metrics,
		byName:     make(map[string]*Collector),
	}
	for _, derived := range d.Collectors() {
		c := NewCollector(derived)
		e.collectors = append(e.collectors, c)
		e.byName[c.Name()] = c
	}
	return e
}

// Collectors returns the collector states.
func (e *Evaluator) Collectors() []*Collector { return e.collectors }

// capabilities returns the bindings shared by collector, wage type and
// employee level payrun scripts.
func (e *Evaluator) capabilities() []facade.Capability {
	caps := []facade.Capability{employeeCapability{evaluator: e}}
	if e.queries != nil {
		caps = append(caps, resultsCapability{queries: e.queries})
	}
	if e.retro != nil {
		caps = append(caps, retroCapability{scheduler: e.retro})
	}
	return caps
}

// Evaluate runs all phases and returns the employee result.
func (e *Evaluator) Evaluate(ctx context.Context) (*engine.PayrollResult, error) {
	caps := e.capabilities()

	for _, c := range e.collectors {
		if err := c.Start(ctx, e.runtime, caps...); err != nil {
			return nil, fmt.Errorf("failed to start collector %s: %w", c.Name(), err)
		}
	}

	for _, derived := range e.derivation.WageTypes() {
		w := NewWageType(derived)
		available, err := e.wageTypeAvailable(ctx, w, caps)
		if err != nil {
			return nil, err
		}
		if !available {
			continue
		}
		value, err := w.Evaluate(ctx, e.runtime, e.collectors, e.opts.MaxExecutionRestarts, caps...)
		for i := 1; i < w.ExecutionCount(); i++ {
			e.metrics.RecordWageTypeRestart()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate wage type %s: %w", w.Number(), err)
		}
		if value != nil {
			e.mu.Lock()
			e.evaluated = append(e.evaluated, w)
			e.mu.Unlock()
		}
	}

	for _, c := range e.collectors {
		if err := c.End(ctx, e.runtime, caps...); err != nil {
			return nil, fmt.Errorf("failed to end collector %s: %w", c.Name(), err)
		}
	}

	for _, w := range e.wageTypes() {
		if err := w.Finish(ctx, e.runtime, caps...); err != nil {
			return nil, fmt.Errorf("failed to finish wage type %s: %w", w.Number(), err)
		}
	}

	return e.result(), nil
}

func (e *Evaluator) wageTypeAvailable(ctx context.Context, w *WageType, caps []facade.Capability) (bool, error) {
	if e.payrun == nil {
		return true, nil
	}
	def := w.Definition()
	subject := facade.CapabilityFunc(func(b *facade.Bindings) {
		b.Value("WageTypeNumber", def.WageTypeNumber)
		b.Value("WageTypeName", def.Name)
	})
	return e.runtime.Predicate(ctx, facade.Call{
		FunctionType: engine.FunctionPayrunWageTypeAvailable,
		Object:       e.payrun.Name,
		Expression:   e.payrun.WageTypeAvailableExpression,
		Capabilities: append(append([]facade.Capability{}, caps...), subject),
	}, true)
}

// RunPayrunScript runs an employee level payrun script with the
// evaluation bindings. Predicates default to true.
func (e *Evaluator) RunPayrunScript(ctx context.Context, functionType engine.FunctionType) (bool, error) {
	if e.payrun == nil {
		return true, nil
	}
	return e.runtime.Predicate(ctx, facade.Call{
		FunctionType: functionType,
		Object:       e.payrun.Name,
		Expression:   e.payrun.Expression(functionType),
		Capabilities: append(e.capabilities(), payrunResultsCapability{evaluator: e}),
	}, true)
}

func (e *Evaluator) wageTypes() []*WageType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*WageType(nil), e.evaluated...)
}

func (e *Evaluator) wageTypeValue(number decimal.Decimal) (*decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.evaluated {
		if w.Number().Equal(number) {
			return w.Value(), true
		}
	}
	return nil, false
}

func (e *Evaluator) addPayrunResult(r *engine.PayrunResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payrunResults = append(e.payrunResults, r)
}

func (e *Evaluator) result() *engine.PayrollResult {
	c := e.runtime.Context()
	created := time.Now().UTC()
	if c.Now != nil {
		created = c.Now()
	}
	var jobID int64
	result := &engine.PayrollResult{
		Period:  c.Period,
		Created: created,
	}
	if c.Job != nil {
		jobID = c.Job.ID
		result.PayrunJobID = c.Job.ID
		result.Forecast = c.Job.Forecast
	}
	if c.Tenant != nil {
		result.TenantID = c.Tenant.ID
	}
	if c.Payroll != nil {
		result.PayrollID = c.Payroll.ID
	}
	if c.Division != nil {
		result.DivisionID = c.Division.ID
	}
	if c.Employee != nil {
		result.EmployeeID = c.Employee.ID
	}

	for _, col := range e.collectors {
		result.CollectorResults = append(result.CollectorResults, col.CollectorResult(jobID, c.Period, created))
		result.CollectorCustomResult = append(result.CollectorCustomResult, col.CustomResults(jobID, c.Period, created)...)
	}
	for _, w := range e.wageTypes() {
		if r := w.WageTypeResult(jobID, c.Period, created); r != nil {
			result.WageTypeResults = append(result.WageTypeResults, r)
		}
		result.WageTypeCustomResults = append(result.WageTypeCustomResults, w.CustomResults(jobID, c.Period, created)...)
	}

	e.mu.Lock()
	for _, r := range e.payrunResults {
		clone := *r
		clone.JobID = jobID
		clone.Created = created
		result.PayrunResults = append(result.PayrunResults, &clone)
	}
	e.mu.Unlock()
	return result
}

// employeeCapability binds the current collector results and the values of
// wage types evaluated before.
type employeeCapability struct {
	evaluator *Evaluator
}

func (ec employeeCapability) Bind(b *facade.Bindings) {
	e := ec.evaluator
	b.Func("GetCollectorValue", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		c, ok := e.byName[name]
		if !ok {
			return nil, nil
		}
		return c.Result(), nil
	})
	b.Func("GetWageTypeValue", func(_ context.Context, args facade.Args) (any, error) {
		number, err := args.Decimal(0, "number")
		if err != nil {
			return nil, err
		}
		v, ok := e.wageTypeValue(number)
		if !ok || v == nil {
			return nil, nil
		}
		return *v, nil
	})
}

// payrunResultsCapability binds SetPayrunResult for payrun scripts.
type payrunResultsCapability struct {
	evaluator *Evaluator
}

func (pc payrunResultsCapability) Bind(b *facade.Bindings) {
	c := b.Context
	b.Func("SetPayrunResult", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		raw, ok := args.Raw(1, "value")
		if !ok {
			return nil, engine.NewContractError("SetPayrunResult: argument value is required", nil).
				WithCode(engine.ErrCodeValidation)
		}
		valueType, err := args.OptString(2, "valueType", "")
		if err != nil {
			return nil, err
		}
		slot, err := args.OptString(3, "slot", "")
		if err != nil {
			return nil, err
		}
		tags, err := args.Strings(4, "tags")
		if err != nil {
			return nil, err
		}
		value, inferred := formatResultValue(raw)
		if valueType == "" {
			valueType = string(inferred)
		}
		pc.evaluator.addPayrunResult(&engine.PayrunResult{
			Name:      name,
			Slot:      slot,
			ValueType: engine.ValueType(valueType),
			Value:     value,
			Start:     c.Period.Start,
			End:       c.Period.End,
			Tags:      tags,
		})
		return nil, nil
	})
}

func formatResultValue(v any) (string, engine.ValueType) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.String(), engine.ValueTypeDecimal
	case bool:
		if val {
			return "true", engine.ValueTypeBoolean
		}
		return "false", engine.ValueTypeBoolean
	case string:
		return val, engine.ValueTypeString
	}
	return fmt.Sprint(v), engine.ValueTypeString
}
