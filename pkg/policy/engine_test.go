package policy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/payroll/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func shareRequest(shared bool, shares ...*engine.RegulationShare) engine.ShareRequest {
	return engine.ShareRequest{
		Regulation: &engine.Regulation{
			ID:               20,
			TenantID:         2,
			Name:             "Swiss",
			SharedRegulation: shared,
		},
		Shares:             shares,
		ConsumerTenantID:   1,
		ConsumerDivisionID: 5,
		RegulationDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"division-scope", "published-regulation", "share-grant"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %s at %d, got %s", name, i, policies[i].Name)
		}
	}
}

func TestAuthorizeShare(t *testing.T) {
	eng := newTestEngine(t)
	early := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		request engine.ShareRequest
		allowed bool
	}{
		{
			name:    "tenant wide grant",
			request: shareRequest(true, &engine.RegulationShare{ConsumerTenantID: 1, Created: early}),
			allowed: true,
		},
		{
			name:    "division grant",
			request: shareRequest(true, &engine.RegulationShare{ConsumerTenantID: 1, ConsumerDivisionID: 5, Created: early}),
			allowed: true,
		},
		{
			name:    "other division only",
			request: shareRequest(true, &engine.RegulationShare{ConsumerTenantID: 1, ConsumerDivisionID: 6, Created: early}),
			allowed: false,
		},
		{
			name:    "grant after regulation date",
			request: shareRequest(true, &engine.RegulationShare{ConsumerTenantID: 1, Created: late}),
			allowed: false,
		},
		{
			name:    "other tenant",
			request: shareRequest(true, &engine.RegulationShare{ConsumerTenantID: 3, Created: early}),
			allowed: false,
		},
		{
			name:    "regulation not shared",
			request: shareRequest(false, &engine.RegulationShare{ConsumerTenantID: 1, Created: early}),
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := eng.AuthorizeShare(context.Background(), tt.request)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, allowed)
			}
		})
	}
}

func TestEvaluate_WarningDoesNotBlock(t *testing.T) {
	eng := newTestEngine(t)
	early := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	decision, err := eng.Evaluate(context.Background(), NewShareInput(shareRequest(true,
		&engine.RegulationShare{ConsumerTenantID: 1, Created: early},
		&engine.RegulationShare{ConsumerTenantID: 1, ConsumerDivisionID: 9, Created: early},
	)))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("Expected access, got violations %+v", decision.Violations)
	}
	if len(decision.Violations) != 1 || decision.Violations[0].Severity != SeverityWarning {
		t.Errorf("Expected one warning, got %+v", decision.Violations)
	}
	if decision.Violations[0].Policy != "division-scope" {
		t.Errorf("Expected division-scope warning, got %s", decision.Violations[0].Policy)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	req := shareRequest(false, &engine.RegulationShare{ConsumerTenantID: 1})

	if err := eng.DisablePolicy("published-regulation"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	policy, err := eng.GetPolicy("published-regulation")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	allowed, err := eng.AuthorizeShare(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !allowed {
		t.Error("Disabled policy should not deny access")
	}

	if err := eng.EnablePolicy("published-regulation"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	allowed, _ = eng.AuthorizeShare(context.Background(), req)
	if allowed {
		t.Error("Enabled policy should deny access")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAddPolicyAndReload(t *testing.T) {
	eng := newTestEngine(t)
	early := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	req := shareRequest(true, &engine.RegulationShare{ConsumerTenantID: 1, Created: early})

	err := eng.AddPolicy(context.Background(), Policy{
		Name:    "frozen-tenant",
		Enabled: true,
		Rego: `package payroll.shares.frozen

import rego.v1

deny contains "tenant 1 is frozen" if {
	input.consumer.tenantId == 1
}
`,
	})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	allowed, err := eng.AuthorizeShare(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if allowed {
		t.Error("Custom policy should deny access")
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	if _, err := eng.GetPolicy("frozen-tenant"); err == nil {
		t.Error("Reload should drop custom policies")
	}
	allowed, _ = eng.AuthorizeShare(context.Background(), req)
	if !allowed {
		t.Error("Expected access after reload")
	}
}

func TestAddPolicy_Invalid(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package x\n\ndeny contains if {"})
	if err == nil {
		t.Fatal("Expected compile error")
	}
}
