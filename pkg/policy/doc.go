// Package policy decides cross tenant regulation access with Open Policy Agent.
//
// A payroll layer may name a regulation of another tenant. The resolver then
// asks the policy engine whether the consumer may use it. Every policy is a
// Rego module exposing a "deny" set; access is granted when no enabled policy
// raises a violation of severity "error".
//
// Built-in policies:
//
//   - published-regulation: the regulation must be flagged as shared
//   - share-grant: the consumer tenant needs a grant for its division (or all
//     divisions) created on or before the regulation date
//   - division-scope: warns about grants limited to other divisions
//
// Additional policies are read from .rego or .json files:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"bundles/policies"}); err != nil {
//	    return err
//	}
//	resolver := regulation.NewResolver(store, store, eng, logger)
package policy
