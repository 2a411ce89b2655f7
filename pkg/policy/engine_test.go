package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/idlecore/idle/pkg/engine"
)

func testPlan(event string, steps ...engine.PlanStep) *engine.Plan {
	return &engine.Plan{
		WorkflowName:   strings.ToLower(event) + "-standard",
		LifecycleEvent: event,
		CorrelationId:  "corr-0001",
		Steps:          steps,
	}
}

func testStep(name, stepType string, with map[string]interface{}) engine.PlanStep {
	return engine.PlanStep{
		Name:          name,
		Type:          stepType,
		With:          with,
		ProviderAlias: "default",
		Output:        name,
	}
}

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"lifecycle-safety",
		"correlation-required",
		"leaver-access",
		"production-safety",
		"sensitive-attributes",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluatePlan_LifecycleSafety(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		plan            *engine.Plan
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name: "joiner that creates and grants",
			plan: testPlan("Joiner",
				testStep("create-account", engine.StepTypeCreateIdentity, nil),
				testStep("grant-baseline", engine.StepTypeGrantEntitlement, map[string]interface{}{"Entitlement": "baseline-access"}),
			),
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "joiner that deletes",
			plan: testPlan("Joiner",
				testStep("create-account", engine.StepTypeCreateIdentity, nil),
				testStep("purge-account", engine.StepTypeDeleteIdentity, nil),
			),
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "leaver that deletes",
			plan: testPlan("Leaver",
				testStep("purge-account", engine.StepTypeDeleteIdentity, nil),
			),
			expectAllowed:   true,
			expectViolation: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePlan(context.Background(), tt.plan, nil)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("Expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluatePlan_CorrelationRequired(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	plan := testPlan("Joiner",
		testStep("grant-baseline", engine.StepTypeGrantEntitlement, map[string]interface{}{"Entitlement": "baseline-access"}),
	)
	plan.CorrelationId = ""

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected plan without correlation id to be denied")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "correlation-required" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Expected a correlation-required violation, got %+v", result.Violations)
	}
}

func TestEvaluatePlan_LeaverAccessWarning(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	plan := testPlan("Leaver",
		testStep("revoke-baseline", engine.StepTypeRevokeEntitlement, map[string]interface{}{"Entitlement": "baseline-access"}),
		testStep("grant-alumni", engine.StepTypeGrantEntitlement, map[string]interface{}{"Entitlement": "alumni-portal"}),
	)

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	// Warnings surface but never block
	if !result.Allowed {
		t.Errorf("Expected warnings not to block the plan, violations: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "leaver-access" && v.Severity == SeverityWarning {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Expected a leaver-access warning, got %+v", result.Violations)
	}
}

func TestEvaluatePlan_ProductionSafety(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	plan := testPlan("Leaver",
		testStep("purge-account", engine.StepTypeDeleteIdentity, nil),
	)

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected deletion outside production to pass, violations: %+v", result.Violations)
	}

	eng.SetEnvironment("production")

	result, err = eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected deletion in production to be denied")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "production-safety" && v.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a critical production-safety violation, got %+v", result.Violations)
	}
}

func TestEvaluatePlan_ProtectedIdentity(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	plan := testPlan("Leaver",
		testStep("purge-account", engine.StepTypeDeleteIdentity, nil),
	)
	request := &engine.LifecycleRequest{
		LifecycleEvent: "Leaver",
		CorrelationId:  "corr-0001",
		IdentityKeys:   map[string]interface{}{"EmployeeId": "E0001"},
		Input:          map[string]interface{}{"Protected": true},
	}

	result, err := eng.EvaluatePlan(context.Background(), plan, request)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected deletion of a protected identity to be denied")
	}
}

func TestEvaluatePlan_MassRevocationWarning(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	steps := make([]engine.PlanStep, 0, 6)
	for _, entitlement := range []string{"vpn", "wiki", "repo", "chat", "mail", "build"} {
		steps = append(steps, testStep("revoke-"+entitlement, engine.StepTypeRevokeEntitlement,
			map[string]interface{}{"Entitlement": entitlement}))
	}
	plan := testPlan("Leaver", steps...)

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected mass revocation to warn, not block, violations: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "production-safety" && strings.Contains(v.Message, "revokes 6 entitlements") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a mass revocation warning, got %+v", result.Violations)
	}
}

func TestEvaluatePlan_SensitiveAttribute(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	plan := testPlan("Mover",
		testStep("set-password", engine.StepTypeEnsureAttribute, map[string]interface{}{
			"Attribute": "userPassword",
			"Value":     "nope",
		}),
	)

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected a credential attribute write to be denied")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "sensitive-attributes" && v.Step == "set-password" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a sensitive-attributes violation for the step, got %+v", result.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "lifecycle-safety"

	err = eng.DisablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	plan := testPlan("Joiner",
		testStep("purge-account", engine.StepTypeDeleteIdentity, nil),
	)

	result, err := eng.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("Disabled policy should not generate violations")
		}
	}

	err = eng.EnablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}
}

func TestEngine_SetData_CustomPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "entitlement-catalog.rego")
	regoContent := `package custom.policies.catalog

import rego.v1

deny contains violation if {
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.GrantEntitlement"
	not step.With.Entitlement in data.policy_data.allowed_entitlements
	violation := {
		"message": sprintf("entitlement %s is not in the approved catalog", [step.With.Entitlement]),
		"severity": "error",
		"step": step.Name,
	}
}`
	if err := os.WriteFile(policyFile, []byte(regoContent), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{policyFile}); err != nil {
		t.Fatalf("Failed to load custom policy: %v", err)
	}
	err = eng.SetData(context.Background(), map[string]interface{}{
		"allowed_entitlements": []interface{}{"baseline-access", "wiki"},
	})
	if err != nil {
		t.Fatalf("Failed to set policy data: %v", err)
	}

	approved := testPlan("Joiner",
		testStep("grant-baseline", engine.StepTypeGrantEntitlement, map[string]interface{}{"Entitlement": "baseline-access"}),
	)
	result, err := eng.EvaluatePlan(context.Background(), approved, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected an approved entitlement to pass, violations: %+v", result.Violations)
	}

	unapproved := testPlan("Joiner",
		testStep("grant-root", engine.StepTypeGrantEntitlement, map[string]interface{}{"Entitlement": "production-root"}),
	)
	result, err = eng.EvaluatePlan(context.Background(), unapproved, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected an unapproved entitlement to be denied")
	}
}

func TestGate_CheckPlan(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	gate := NewGate(eng)

	clean := testPlan("Joiner",
		testStep("create-account", engine.StepTypeCreateIdentity, nil),
	)
	decision, err := gate.CheckPlan(context.Background(), clean, nil)
	if err != nil {
		t.Fatalf("CheckPlan failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Expected a clean plan to pass, reasons: %v", decision.Reasons)
	}
	if len(decision.Reasons) != 0 {
		t.Errorf("Expected no reasons for an allowed plan, got %v", decision.Reasons)
	}

	bad := testPlan("Joiner",
		testStep("purge-account", engine.StepTypeDeleteIdentity, nil),
	)
	decision, err = gate.CheckPlan(context.Background(), bad, nil)
	if err != nil {
		t.Fatalf("CheckPlan failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Expected the plan to be denied")
	}
	if len(decision.Reasons) == 0 {
		t.Error("Expected the blocking messages as reasons")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	initialCount := len(eng.ListPolicies())

	err = eng.ReloadPolicies(context.Background())
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	afterReloadCount := len(eng.ListPolicies())

	if initialCount != afterReloadCount {
		t.Errorf("Expected %d policies after reload, got %d", initialCount, afterReloadCount)
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()

	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}
