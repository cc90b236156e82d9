// Package config loads the runtime configuration and the regulation bundles
// of the payroll engine.
//
// # Runtime configuration
//
// Load reads a YAML file over Default and validates it. Unknown keys are
// rejected so a misspelled option fails at startup:
//
//	database:
//	  path: payroll.db
//	payrun:
//	  parallelism: 8
//	regulations:
//	  bundleDir: regulations
//	  policyDir: policies
//	  watch: true
//	webhooks:
//	  endpoint: https://hooks.example.com/payroll
//	  rate: 5
//
// # Bundles
//
// A bundle describes one tenant with its calendars, divisions, employees,
// regulations, payrolls, payruns, case values and regulation shares.
// Bundles are read from YAML, JSON or CUE files; objects reference each
// other by name and receive their IDs when applied.
//
//	tenant:
//	  identifier: acme
//	  culture: de-CH
//	regulations:
//	  - name: Base
//	    objects:
//	      wageTypes:
//	        - wageTypeNumber: 100
//	          name: Salary
//	          valueExpression: return GetCaseValue('Salary')
//	payrolls:
//	  - name: Zurich Payroll
//	    division: Zurich
//	    layers:
//	      - {level: 1, priority: 1, regulationName: Base}
//
// YAML documents are decoded strictly and checked with struct validation.
// JSON and CUE sources are unified with the builtin #Bundle schema of the
// SchemaRegistry first, so schema errors carry file positions. Files of the
// same tenant merge; conflicting tenant settings are reported.
//
// Parser.Parse returns every finding as a ValidationError instead of
// stopping at the first one. Warnings, such as an unknown calendar name
// that falls back to the default calendar, do not fail a load.
//
// # Catalog and watcher
//
// Catalog applies the bundles of a directory to a fresh in-memory store and
// swaps it in as a new Snapshot. Watcher reports debounced file changes of
// the bundle and policy directories; the catalog reloads on them and keeps
// the previous snapshot when a reload fails.
package config
