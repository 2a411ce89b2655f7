package policy

import (
	"time"

	"github.com/idlecore/idle/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never reach a target
	// system.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the plan.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents an admission rule with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"Name"`

	// Description provides a human-readable description.
	Description string `json:"Description"`

	// Rego contains the Rego policy source.
	Rego string `json:"Rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"Severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"Enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"Tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"Metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"CreatedAt"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"UpdatedAt"`
}

// Violation represents a single policy violation against a plan.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"Policy"`

	// Step is the plan step the violation points at, empty for plan-wide
	// findings.
	Step string `json:"Step,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"Message"`

	// Severity is the violation severity level.
	Severity Severity `json:"Severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"Remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"DetectedAt"`
}

// Result represents the outcome of evaluating every enabled policy against
// one plan.
type Result struct {
	// Allowed is false when any violation blocks the run.
	Allowed bool `json:"Allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"Violations,omitempty"`

	// Warnings lists policies that failed to evaluate. Evaluation failures
	// never block a plan.
	Warnings []string `json:"Warnings,omitempty"`

	// EvaluatedPolicies lists the names of the policies that ran.
	EvaluatedPolicies []string `json:"EvaluatedPolicies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"EvaluatedAt"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"Duration"`
}

// BlockingMessages returns the messages of every violation that denies the
// plan, in evaluation order.
func (r *Result) BlockingMessages() []string {
	var messages []string
	for i := range r.Violations {
		if r.Violations[i].Severity.Blocks() {
			messages = append(messages, r.Violations[i].Message)
		}
	}
	return messages
}

// Input is the document handed to Rego as `input`.
type Input struct {
	// Plan is the built plan under evaluation.
	Plan *engine.Plan `json:"Plan,omitempty"`

	// Request is the lifecycle request the plan was built from.
	Request *engine.LifecycleRequest `json:"Request,omitempty"`

	// Context provides evaluation context.
	Context *Context `json:"Context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Actor is the principal that submitted the request.
	Actor string `json:"Actor,omitempty"`

	// Environment is the deployment environment, e.g. "production".
	Environment string `json:"Environment,omitempty"`

	// Operation is the phase being authorized, e.g. "run".
	Operation string `json:"Operation,omitempty"`

	// WhatIf indicates a simulated run that will not touch any target.
	WhatIf bool `json:"WhatIf"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"Timestamp"`
}

// Bundle represents a versioned collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"Name"`

	// Version is the bundle version.
	Version string `json:"Version"`

	// Description provides a human-readable description.
	Description string `json:"Description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"Policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"CreatedAt"`
}
