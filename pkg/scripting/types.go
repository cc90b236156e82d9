package scripting

import (
	"context"

	"github.com/openfroyo/payroll/pkg/engine"
)

// HostFunc is a Go function exposed to scripts.
// Numbers arrive as decimal.Decimal, dates as "YYYY-MM-DD" strings.
type HostFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Environment is everything a script sees during one invocation.
type Environment struct {
	// Values are read-only globals.
	Values map[string]any

	// Functions are callable globals.
	Functions map[string]HostFunc

	// Modules resolves load() targets to shared script sources.
	Modules func(name string) (string, bool)

	// Print receives print() output. Discarded when nil.
	Print func(msg string)
}

// Function is a compiled script. It is immutable and safe for concurrent calls.
type Function interface {
	Language() engine.ScriptLanguage
	Call(ctx context.Context, env *Environment) (any, error)
}

// Compiler turns source of one language into a Function.
type Compiler interface {
	Language() engine.ScriptLanguage
	Compile(functionType engine.FunctionType, source string) (Function, error)
}

// Invocation is one script call.
type Invocation struct {
	FunctionType engine.FunctionType

	// Object is the name of the regulation object owning the expression.
	Object string

	Expression engine.Expression
	Env        *Environment
}

// Invoker runs scripts. Host implements it; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (any, error)
}
