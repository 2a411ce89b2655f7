package engine

import (
	"context"

	"github.com/idlecore/idle/pkg/workflow"
)

// PlanBuilder turns a workflow definition and a lifecycle request into an
// immutable plan. This is the build phase: pure, deterministic, no provider
// I/O.
type PlanBuilder interface {
	// BuildPlan validates the definition against the request and the wired
	// providers and emits the plan, or a validation/capability error.
	BuildPlan(definition *workflow.Definition, request *LifecycleRequest, providers map[string]Provider) (*Plan, error)
}

// PlanRunner executes a built plan. This is the run phase: strictly
// sequential steps, fail-fast primaries, best-effort remediation.
type PlanRunner interface {
	// Execute runs the plan within the given execution context and returns
	// the complete result, including the event timeline.
	Execute(ctx context.Context, plan *Plan, request *LifecycleRequest, run *ExecutionContext) (*ExecutionResult, error)
}

// GateDecision is a plan gate's verdict.
type GateDecision struct {
	// Allowed reports whether the plan may execute.
	Allowed bool `json:"Allowed"`

	// Reasons lists why the plan was denied. Empty when allowed.
	Reasons []string `json:"Reasons,omitempty"`
}

// PlanGate authorizes a built plan before it executes. Gates sit between
// build and run, where the plan is complete but nothing has touched a
// target system yet.
type PlanGate interface {
	// CheckPlan evaluates the plan and request against the gate's rules.
	CheckPlan(ctx context.Context, plan *Plan, request *LifecycleRequest) (*GateDecision, error)
}

var (
	_ PlanBuilder = (*Builder)(nil)
	_ PlanRunner  = (*Executor)(nil)
)
