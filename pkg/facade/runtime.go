package facade

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/casevalue"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// Context is everything a script invocation may reach. Fields that do not
// apply to a script kind stay nil; the matching capabilities are then not bound.
type Context struct {
	Tenant   *engine.Tenant
	User     *engine.User
	Payroll  *engine.Payroll
	Division *engine.Division
	Employee *engine.Employee
	Job      *engine.PayrunJob

	// Period is the evaluated period; the job period for payrun scripts.
	Period engine.DatePeriod

	EvaluationDate time.Time
	RegulationDate time.Time

	Culture  language.Tag
	Calendar *calendar.Calculator

	Derivation    *regulation.Derivation
	CaseValues    *casevalue.Provider
	Lookups       engine.LookupProvider
	RuntimeValues *RuntimeValues

	Webhooks engine.WebhookDispatcher
	Logs     engine.LogSink
	Tasks    engine.TaskSink

	Logger zerolog.Logger

	// Now stamps created objects, time.Now when nil.
	Now func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Context) tenantID() int64 {
	if c.Tenant == nil {
		return 0
	}
	return c.Tenant.ID
}

func (c *Context) employeeID() int64 {
	if c.Employee == nil {
		return 0
	}
	return c.Employee.ID
}

// Moment is the default date of case value queries: the period start, or
// the evaluation date outside a period.
func (c *Context) Moment() time.Time {
	if !c.Period.Start.IsZero() {
		return c.Period.Start
	}
	return c.EvaluationDate
}

// WithEmployee returns a copy of the context for one employee.
func (c *Context) WithEmployee(employee *engine.Employee, caseValues *casevalue.Provider, cal *calendar.Calculator, culture language.Tag) *Context {
	clone := *c
	clone.Employee = employee
	clone.CaseValues = caseValues
	if cal != nil {
		clone.Calendar = cal
	}
	clone.Culture = culture
	return &clone
}

// Call is one script invocation.
type Call struct {
	FunctionType engine.FunctionType
	Object       string
	Expression   engine.Expression

	// Attributes are the owner attributes, readable and writable by the script.
	Attributes *Attributes

	// Capabilities are the kind specific bindings.
	Capabilities []Capability
}

// Runtime assembles the environment of each script kind from the context
// and runs it through the invoker.
type Runtime struct {
	context *Context
	invoker scripting.Invoker
	logger  zerolog.Logger
}

// NewRuntime creates a runtime over a context.
func NewRuntime(invoker scripting.Invoker, c *Context) *Runtime {
	return &Runtime{
		context: c,
		invoker: invoker,
		logger:  c.Logger.With().Str("component", "script-runtime").Logger(),
	}
}

// Context returns the evaluation context.
func (r *Runtime) Context() *Context { return r.context }

// Invoke binds the common and the call capabilities and runs the script.
// An empty expression is not invoked and returns nil.
func (r *Runtime) Invoke(ctx context.Context, call Call) (any, error) {
	if call.Expression.IsEmpty() {
		return nil, nil
	}

	b := newBindings(r.context, call.FunctionType, call.Object)
	for _, c := range r.common(call) {
		c.Bind(b)
	}
	for _, c := range call.Capabilities {
		c.Bind(b)
	}

	logger := r.logger.With().
		Str("function", string(call.FunctionType)).
		Str("object", call.Object).
		Logger()

	env := &scripting.Environment{
		Values:    b.values,
		Functions: b.functions,
		Modules:   r.modules(call.FunctionType),
		Print: func(msg string) {
			logger.Debug().Msg(msg)
		},
	}

	return r.invoker.Invoke(ctx, scripting.Invocation{
		FunctionType: call.FunctionType,
		Object:       call.Object,
		Expression:   call.Expression,
		Env:          env,
	})
}

// Predicate invokes a script whose result is a boolean. An empty expression
// and a nil result yield def.
func (r *Runtime) Predicate(ctx context.Context, call Call, def bool) (bool, error) {
	v, err := r.Invoke(ctx, call)
	if err != nil {
		return false, err
	}
	if v == nil {
		return def, nil
	}
	ok, err := scripting.Bool(v)
	if err != nil {
		return false, engine.NewScriptError(call.FunctionType, call.Object, err)
	}
	return ok, nil
}

func (r *Runtime) common(call Call) []Capability {
	c := r.context
	caps := []Capability{contextValues{}, logs{}, tasks{}, webhooks{}}
	if call.Attributes != nil {
		caps = append(caps, ownerAttributes{attributes: call.Attributes})
	}
	if c.Calendar != nil {
		caps = append(caps, calendarCapability{})
	}
	if c.CaseValues != nil {
		caps = append(caps, caseValues{})
	}
	if c.Lookups != nil {
		caps = append(caps, lookups{})
	}
	if c.RuntimeValues != nil {
		caps = append(caps, runtimeValues{})
	}
	return caps
}

// modules resolves load() against the derived script libraries of the kind.
func (r *Runtime) modules(functionType engine.FunctionType) func(string) (string, bool) {
	d := r.context.Derivation
	if d == nil {
		return nil
	}
	return func(name string) (string, bool) {
		s, ok := d.Script(name, functionType)
		if !ok {
			return "", false
		}
		return s.Value, true
	}
}
