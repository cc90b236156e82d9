package facade

import (
	"context"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// Capability contributes named values and host functions to a script environment.
type Capability interface {
	Bind(b *Bindings)
}

// CapabilityFunc adapts a function to a Capability.
type CapabilityFunc func(b *Bindings)

// Bind implements Capability.
func (f CapabilityFunc) Bind(b *Bindings) { f(b) }

// Func is a host function with typed argument access.
type Func func(ctx context.Context, args Args) (any, error)

// Bindings collects the environment of one invocation.
type Bindings struct {
	Context      *Context
	FunctionType engine.FunctionType
	Object       string

	values    map[string]any
	functions map[string]scripting.HostFunc
}

func newBindings(c *Context, functionType engine.FunctionType, object string) *Bindings {
	return &Bindings{
		Context:      c,
		FunctionType: functionType,
		Object:       object,
		values:       make(map[string]any),
		functions:    make(map[string]scripting.HostFunc),
	}
}

// Value binds a read-only global.
func (b *Bindings) Value(name string, value any) {
	b.values[name] = value
}

// Func binds a host function.
func (b *Bindings) Func(name string, fn Func) {
	b.functions[name] = func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return fn(ctx, NewArgs(name, args, kwargs))
	}
}

// Values returns the bound values.
func (b *Bindings) Values() map[string]any { return b.values }

// Functions returns the bound function names.
func (b *Bindings) Functions() map[string]scripting.HostFunc { return b.functions }
