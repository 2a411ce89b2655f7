package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		lifecycleSafetyPolicy(),
		correlationPolicy(),
		leaverAccessPolicy(),
		productionSafetyPolicy(),
		sensitiveAttributePolicy(),
	}
}

// lifecycleSafetyPolicy blocks steps that contradict the plan's lifecycle
// event.
func lifecycleSafetyPolicy() Policy {
	return Policy{
		Name:        "lifecycle-safety",
		Description: "Blocks destructive steps that contradict the plan's lifecycle event",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"lifecycle", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package idle.policies.lifecycle

import rego.v1

# A joiner brings someone in; it must never delete their identity
deny contains violation if {
	input.Plan.LifecycleEvent == "Joiner"
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.DeleteIdentity"
	violation := {
		"message": sprintf("Joiner plan %s must not delete identities (step %s)", [input.Plan.WorkflowName, step.Name]),
		"severity": "error",
		"step": step.Name,
	}
}

deny contains violation if {
	input.Plan.LifecycleEvent == "Joiner"
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.DisableIdentity"
	violation := {
		"message": sprintf("Joiner plan %s disables an identity it is creating (step %s)", [input.Plan.WorkflowName, step.Name]),
		"severity": "warning",
		"step": step.Name,
	}
}`,
	}
}

// correlationPolicy requires a correlation id before any access is granted.
func correlationPolicy() Policy {
	return Policy{
		Name:        "correlation-required",
		Description: "Requires a correlation id on plans that grant entitlements",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"audit", "entitlements"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package idle.policies.correlation

import rego.v1

grants_access if {
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.GrantEntitlement"
}

deny contains violation if {
	grants_access
	not input.Plan.CorrelationId
	violation := {
		"message": sprintf("plan %s grants entitlements without a correlation id", [input.Plan.WorkflowName]),
		"severity": "error",
	}
}

deny contains violation if {
	grants_access
	input.Plan.CorrelationId == ""
	violation := {
		"message": sprintf("plan %s grants entitlements without a correlation id", [input.Plan.WorkflowName]),
		"severity": "error",
	}
}`,
	}
}

// leaverAccessPolicy flags leaver plans that hand out new access.
func leaverAccessPolicy() Policy {
	return Policy{
		Name:        "leaver-access",
		Description: "Flags leaver plans that grant new entitlements",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"lifecycle", "entitlements"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package idle.policies.leaver

import rego.v1

deny contains violation if {
	input.Plan.LifecycleEvent == "Leaver"
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.GrantEntitlement"
	violation := {
		"message": sprintf("Leaver plan %s grants new access (step %s)", [input.Plan.WorkflowName, step.Name]),
		"severity": "warning",
		"step": step.Name,
	}
}`,
	}
}

// productionSafetyPolicy restricts destructive steps in production.
func productionSafetyPolicy() Policy {
	return Policy{
		Name:        "production-safety",
		Description: "Restricts identity deletion in production and flags mass revocations",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"operations", "safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package idle.policies.operations

import rego.v1

# Deleting identities in production requires a simulated run first
deny contains violation if {
	input.Context.Environment == "production"
	not input.Context.WhatIf
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.DeleteIdentity"
	violation := {
		"message": sprintf("identity deletion (step %s) is not allowed in production", [step.Name]),
		"severity": "critical",
		"step": step.Name,
	}
}

# Protected subjects must never be deleted
deny contains violation if {
	input.Request.Input.Protected == true
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.DeleteIdentity"
	violation := {
		"message": sprintf("step %s deletes a protected identity", [step.Name]),
		"severity": "critical",
		"step": step.Name,
	}
}

# Warn about plans that strip a lot of access at once
deny contains violation if {
	revoke_count := count([s |
		some s in input.Plan.Steps
		s.Type == "IdLE.Step.RevokeEntitlement"
	])
	revoke_count > 5
	violation := {
		"message": sprintf("plan revokes %d entitlements - please review carefully", [revoke_count]),
		"severity": "warning",
	}
}`,
	}
}

// sensitiveAttributePolicy keeps credentials out of attribute writes.
func sensitiveAttributePolicy() Policy {
	return Policy{
		Name:        "sensitive-attributes",
		Description: "Blocks attribute steps that write credential material",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "attributes"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package idle.policies.attributes

import rego.v1

deny contains violation if {
	some step in input.Plan.Steps
	step.Type == "IdLE.Step.EnsureAttribute"
	regex.match("(?i)(password|secret|token|credential)", step.With.Attribute)
	violation := {
		"message": sprintf("step %s writes credential material through a plain attribute; use a provider credential flow", [step.Name]),
		"severity": "error",
		"step": step.Name,
	}
}`,
	}
}
