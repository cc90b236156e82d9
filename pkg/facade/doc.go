// Package facade exposes payroll data to regulation scripts.
//
// A Context carries the tenant, payroll, employee, job, period and the
// collaborators of one evaluation. Capabilities bind a narrow set of values
// and host functions into the script environment. Every script kind gets the
// common capabilities (context values, owner attributes, logs, tasks,
// webhooks, calendar, case values, lookups, runtime values) plus the ones its
// caller passes, such as collector or wage type access from the payrun package.
//
//	rt := facade.NewRuntime(host, fc)
//	v, err := rt.Invoke(ctx, facade.Call{
//		FunctionType: engine.FunctionCaseAvailable,
//		Object:       c.Name,
//		Expression:   c.AvailableExpression,
//	})
package facade
