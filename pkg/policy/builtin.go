package policy

// BuiltinPolicies returns the share policies loaded into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		publishedRegulationPolicy(),
		shareGrantPolicy(),
		divisionScopePolicy(),
	}
}

// publishedRegulationPolicy requires the provider to mark the regulation shared.
func publishedRegulationPolicy() Policy {
	return Policy{
		Name:        "published-regulation",
		Description: "Only regulations flagged as shared may be used by other tenants",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package payroll.shares.published

import rego.v1

deny contains violation if {
	not input.regulation.shared
	violation := {
		"message": sprintf("Regulation %s is not shared", [input.regulation.name]),
		"severity": "error",
	}
}
`,
	}
}

// shareGrantPolicy requires a grant for the consumer effective at the regulation date.
func shareGrantPolicy() Policy {
	return Policy{
		Name:        "share-grant",
		Description: "The consumer tenant needs a share grant created on or before the regulation date",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package payroll.shares.grant

import rego.v1

default granted := false

granted if {
	some share in input.shares
	share.consumerTenantId == input.consumer.tenantId
	division_matches(share)
	effective(share)
}

division_matches(share) if {
	share.consumerDivisionId == 0
}

division_matches(share) if {
	share.consumerDivisionId == input.consumer.divisionId
}

effective(_) if {
	input.regulationDate == 0
}

effective(share) if {
	share.created <= input.regulationDate
}

deny contains violation if {
	not granted
	violation := {
		"message": sprintf("Tenant %d holds no share of regulation %s", [input.consumer.tenantId, input.regulation.name]),
		"severity": "error",
	}
}
`,
	}
}

// divisionScopePolicy warns when a grant is limited to other divisions only.
func divisionScopePolicy() Policy {
	return Policy{
		Name:        "division-scope",
		Description: "Reports grants of the consumer tenant scoped to a different division",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package payroll.shares.division

import rego.v1

deny contains violation if {
	some share in input.shares
	share.consumerTenantId == input.consumer.tenantId
	share.consumerDivisionId != 0
	share.consumerDivisionId != input.consumer.divisionId
	violation := {
		"message": sprintf("Share of regulation %s is scoped to division %d", [input.regulation.name, share.consumerDivisionId]),
		"severity": "warning",
	}
}
`,
	}
}
