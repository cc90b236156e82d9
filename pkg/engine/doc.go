// Package engine provides the core types and interfaces of the payroll engine.
//
// # Overview
//
// Payroll results are computed from a layered set of regulations. A payroll
// stacks regulations by level and priority; for every name the most
// overriding version created before the regulation date wins. Regulation
// objects carry scripts that read case values, results, calendars and
// lookups and write results, attributes and retro requests back.
//
// # Core Domain Types
//
//   - Regulation, Payroll, PayrollLayer: the override stack
//   - Case, CaseField, CaseRelation, Collector, WageType, Lookup, Report, Script:
//     derivable objects keyed by name (or wage type number)
//   - CaseValue: time sliced input data in one of four tiers
//   - PayrunJob, PayrollResult: one execution and its output
//
// # Errors
//
// Failures are classified with EngineError:
//
//   - script: a regulation script failed; carries function type and object
//   - domain: a business invariant was violated
//   - contract: a caller passed invalid arguments
//   - infrastructure: a store or webhook failed
//
// Domain, contract and infrastructure errors raised inside a script pass
// through unchanged; anything else is reported as a script failure.
//
// # Job Lifecycle
//
// Payrun jobs move Draft -> Release -> Process -> Complete | Forecast | Abort,
// and may be cancelled from Draft or Release. Terminal states never change.
package engine
