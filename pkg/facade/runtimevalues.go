package facade

import (
	"context"
	"sync"

	"github.com/openfroyo/payroll/pkg/engine"
)

// RuntimeValues are the scratch values of one payrun job execution: a job
// scoped map shared by all employees and one map per employee. They live
// only as long as the job run that owns them.
type RuntimeValues struct {
	mu        sync.RWMutex
	payrun    map[string]any
	employees map[string]map[string]any
}

// NewRuntimeValues creates empty runtime values.
func NewRuntimeValues() *RuntimeValues {
	return &RuntimeValues{
		payrun:    make(map[string]any),
		employees: make(map[string]map[string]any),
	}
}

// PayrunValue returns a job scoped value.
func (r *RuntimeValues) PayrunValue(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.payrun[key]
	return v, ok
}

// SetPayrunValue writes a job scoped value; nil removes it.
func (r *RuntimeValues) SetPayrunValue(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if value == nil {
		delete(r.payrun, key)
		return
	}
	r.payrun[key] = value
}

// EmployeeValue returns an employee scoped value.
func (r *RuntimeValues) EmployeeValue(employee, key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.employees[employee][key]
	return v, ok
}

// SetEmployeeValue writes an employee scoped value; nil removes it.
func (r *RuntimeValues) SetEmployeeValue(employee, key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values, ok := r.employees[employee]
	if !ok {
		if value == nil {
			return
		}
		values = make(map[string]any)
		r.employees[employee] = values
	}
	if value == nil {
		delete(values, key)
		return
	}
	values[key] = value
}

// PayrunValues returns a copy of the job scoped values.
func (r *RuntimeValues) PayrunValues() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyValues(r.payrun)
}

// EmployeeValues returns a copy of the values of one employee.
func (r *RuntimeValues) EmployeeValues(employee string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyValues(r.employees[employee])
}

func copyValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type runtimeValues struct{}

func (runtimeValues) Bind(b *Bindings) {
	c := b.Context
	values := c.RuntimeValues

	b.Func("GetPayrunRuntimeValue", func(_ context.Context, args Args) (any, error) {
		key, err := args.String(0, "key")
		if err != nil {
			return nil, err
		}
		v, _ := values.PayrunValue(key)
		return v, nil
	})
	b.Func("SetPayrunRuntimeValue", func(_ context.Context, args Args) (any, error) {
		key, err := args.String(0, "key")
		if err != nil {
			return nil, err
		}
		v, _ := args.Raw(1, "value")
		values.SetPayrunValue(key, v)
		return nil, nil
	})

	employee := func() (string, error) {
		if c.Employee == nil {
			return "", engine.NewContractError("employee runtime values need an employee", nil).
				WithCode(engine.ErrCodeValidation)
		}
		return c.Employee.Identifier, nil
	}
	b.Func("GetEmployeeRuntimeValue", func(_ context.Context, args Args) (any, error) {
		id, err := employee()
		if err != nil {
			return nil, err
		}
		key, err := args.String(0, "key")
		if err != nil {
			return nil, err
		}
		v, _ := values.EmployeeValue(id, key)
		return v, nil
	})
	b.Func("SetEmployeeRuntimeValue", func(_ context.Context, args Args) (any, error) {
		id, err := employee()
		if err != nil {
			return nil, err
		}
		key, err := args.String(0, "key")
		if err != nil {
			return nil, err
		}
		v, _ := args.Raw(1, "value")
		values.SetEmployeeValue(id, key, v)
		return nil, nil
	})
}
