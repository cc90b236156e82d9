// Package regulation resolves the effective regulation objects of a payroll.
//
// A payroll stacks regulations in layers. For every natural key (name, wage
// type number, case relation tuple) the row of the most overriding layer
// wins, considering only rows created on or before the regulation date and
// matching the payroll cluster set. Layers rank by Level, then Priority,
// both descending; equal ranks fall back to the lower regulation ID.
//
// The losing rows stay available as the derivation chain, so an object that
// leaves a script empty inherits it from the layers below:
//
//	d, _ := resolver.Derive(ctx, payroll, regulation.Options{RegulationDate: date})
//	for _, wt := range d.WageTypes() {
//		expr, owner, ok := regulation.InheritedExpression(wt, engine.FunctionWageTypeValue)
//		...
//	}
package regulation
