package engine

import (
	"fmt"
	"time"

	"github.com/idlecore/idle/pkg/workflow"
)

// Wire field names are PascalCase across every serialized type in this
// package. Results and plans cross process boundaries to callers that key
// on the documented names (CorrelationId, LifecycleEvent, Steps, ...).

// LifecycleRequest describes a single identity lifecycle occurrence: a
// joiner arriving, a mover changing departments, a leaver departing, or a
// custom event.
type LifecycleRequest struct {
	// LifecycleEvent is the event kind: Joiner, Mover, Leaver, or a custom
	// event name.
	LifecycleEvent string `json:"LifecycleEvent" yaml:"LifecycleEvent" mapstructure:"LifecycleEvent"`

	// CorrelationId ties the request, plan, run, and events together.
	// Generated at plan build when absent.
	CorrelationId string `json:"CorrelationId,omitempty" yaml:"CorrelationId,omitempty" mapstructure:"CorrelationId"`

	// Actor is the caller identity for auditing (e.g. "hr-feed").
	Actor string `json:"Actor,omitempty" yaml:"Actor,omitempty" mapstructure:"Actor"`

	// IdentityKeys identify the subject, e.g. employeeId or upn.
	IdentityKeys map[string]interface{} `json:"IdentityKeys,omitempty" yaml:"IdentityKeys,omitempty" mapstructure:"IdentityKeys"`

	// Input carries the event payload.
	Input map[string]interface{} `json:"Input,omitempty" yaml:"Input,omitempty" mapstructure:"Input"`

	// DesiredState describes the target state for the subject.
	DesiredState map[string]interface{} `json:"DesiredState,omitempty" yaml:"DesiredState,omitempty" mapstructure:"DesiredState"`

	// Changes lists attribute-level changes, typically for Mover events.
	Changes []map[string]interface{} `json:"Changes,omitempty" yaml:"Changes,omitempty" mapstructure:"Changes"`
}

// Validate checks the request invariants that hold before plan building.
func (r *LifecycleRequest) Validate() error {
	if r == nil {
		return NewValidationError("lifecycle request is nil", nil)
	}
	if r.LifecycleEvent == "" {
		return NewValidationError("lifecycle request has no LifecycleEvent", nil)
	}
	return nil
}

// Clone returns a deep copy of the request.
func (r *LifecycleRequest) Clone() *LifecycleRequest {
	if r == nil {
		return nil
	}
	out := &LifecycleRequest{
		LifecycleEvent: r.LifecycleEvent,
		CorrelationId:  r.CorrelationId,
		Actor:          r.Actor,
		IdentityKeys:   deepCopyMap(r.IdentityKeys),
		Input:          deepCopyMap(r.Input),
		DesiredState:   deepCopyMap(r.DesiredState),
	}
	if r.Changes != nil {
		out.Changes = make([]map[string]interface{}, len(r.Changes))
		for i, change := range r.Changes {
			out.Changes[i] = deepCopyMap(change)
		}
	}
	return out
}

// Plan is the immutable product of plan building: the workflow's steps with
// templates resolved, capabilities computed, and provider aliases bound.
// Building the same definition and request twice yields identical Steps.
type Plan struct {
	// WorkflowName is the name of the source definition.
	WorkflowName string `json:"WorkflowName"`

	// LifecycleEvent is the event the plan serves.
	LifecycleEvent string `json:"LifecycleEvent"`

	// CorrelationId ties the plan to its request and run.
	CorrelationId string `json:"CorrelationId"`

	// BuiltAtUtc is when the plan was built. It is envelope metadata and
	// not part of the deterministic step content.
	BuiltAtUtc time.Time `json:"BuiltAtUtc"`

	// Steps are the primary steps in execution order.
	Steps []PlanStep `json:"Steps"`

	// OnFailureSteps are the remediation steps in execution order.
	OnFailureSteps []PlanStep `json:"OnFailureSteps,omitempty"`
}

// Validate checks the plan's structural invariants, typically after import.
func (p *Plan) Validate() error {
	if p.WorkflowName == "" {
		return fmt.Errorf("plan has no WorkflowName")
	}
	if p.LifecycleEvent == "" {
		return fmt.Errorf("plan has no LifecycleEvent")
	}
	if p.CorrelationId == "" {
		return fmt.Errorf("plan has no CorrelationId")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		if err := p.Steps[i].Validate(); err != nil {
			return fmt.Errorf("Steps[%d]: %w", i, err)
		}
		if seen[p.Steps[i].Name] {
			return fmt.Errorf("Steps[%d]: duplicate step name %q", i, p.Steps[i].Name)
		}
		seen[p.Steps[i].Name] = true
	}
	seenRemediation := make(map[string]bool, len(p.OnFailureSteps))
	for i := range p.OnFailureSteps {
		if err := p.OnFailureSteps[i].Validate(); err != nil {
			return fmt.Errorf("OnFailureSteps[%d]: %w", i, err)
		}
		if seenRemediation[p.OnFailureSteps[i].Name] {
			return fmt.Errorf("OnFailureSteps[%d]: duplicate step name %q", i, p.OnFailureSteps[i].Name)
		}
		seenRemediation[p.OnFailureSteps[i].Name] = true
	}
	return nil
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{
		WorkflowName:   p.WorkflowName,
		LifecycleEvent: p.LifecycleEvent,
		CorrelationId:  p.CorrelationId,
		BuiltAtUtc:     p.BuiltAtUtc,
	}
	if p.Steps != nil {
		out.Steps = make([]PlanStep, len(p.Steps))
		for i := range p.Steps {
			out.Steps[i] = p.Steps[i].Clone()
		}
	}
	if p.OnFailureSteps != nil {
		out.OnFailureSteps = make([]PlanStep, len(p.OnFailureSteps))
		for i := range p.OnFailureSteps {
			out.OnFailureSteps[i] = p.OnFailureSteps[i].Clone()
		}
	}
	return out
}

// PlanStep is a fully resolved step ready for execution.
type PlanStep struct {
	// Name identifies the step within the plan.
	Name string `json:"Name"`

	// Type selects the handler, e.g. "IdLE.Step.EnsureAttribute".
	Type string `json:"Type"`

	// With holds the step options with every template resolved.
	With map[string]interface{} `json:"With,omitempty"`

	// Condition is carried verbatim from the definition and evaluated at
	// run time against {Plan, Request, State}.
	Condition *workflow.Condition `json:"Condition,omitempty"`

	// RequiresCapabilities is the effective capability set for the step.
	RequiresCapabilities []string `json:"RequiresCapabilities,omitempty"`

	// RetryProfile names the retry profile; empty selects the run default.
	RetryProfile string `json:"RetryProfile,omitempty"`

	// ProviderAlias selects the provider from the execution context.
	ProviderAlias string `json:"ProviderAlias"`

	// Output is the state namespace the step writes to.
	Output string `json:"Output"`
}

// Validate checks a plan step, typically after import.
func (s *PlanStep) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("plan step has no Name")
	}
	if !workflow.ValidStepType(s.Type) {
		return fmt.Errorf("plan step %q has invalid type %q", s.Name, s.Type)
	}
	if s.ProviderAlias == "" {
		return fmt.Errorf("plan step %q has no ProviderAlias", s.Name)
	}
	if s.Output == "" {
		return fmt.Errorf("plan step %q has no Output namespace", s.Name)
	}
	if err := s.Condition.Validate(); err != nil {
		return fmt.Errorf("plan step %q: %w", s.Name, err)
	}
	return nil
}

// Clone returns a deep copy of the step.
func (s *PlanStep) Clone() PlanStep {
	out := PlanStep{
		Name:          s.Name,
		Type:          s.Type,
		With:          deepCopyMap(s.With),
		Condition:     s.Condition.Clone(),
		RetryProfile:  s.RetryProfile,
		ProviderAlias: s.ProviderAlias,
		Output:        s.Output,
	}
	if s.RequiresCapabilities != nil {
		out.RequiresCapabilities = append([]string(nil), s.RequiresCapabilities...)
	}
	return out
}

// StepResult records the terminal outcome of a single step.
type StepResult struct {
	// Status is the terminal step status.
	Status StepStatus `json:"Status"`

	// Changed reports whether the step modified the target system.
	Changed bool `json:"Changed"`

	// Error is the redacted failure message, empty unless Status is Failed.
	Error string `json:"Error,omitempty"`

	// Attempts is how many times the handler ran (0 for skipped steps).
	Attempts int `json:"Attempts"`

	// DurationMilliseconds is the total step wall time including retries.
	DurationMilliseconds int64 `json:"DurationMilliseconds"`
}

// OnFailureResult summarizes the best-effort remediation phase.
type OnFailureResult struct {
	// Status is NotRun, Completed, or PartiallyFailed.
	Status OnFailureStatus `json:"Status"`

	// Steps holds the result of every remediation step that ran, keyed by
	// step name.
	Steps map[string]StepResult `json:"Steps,omitempty"`
}

// ExecutionResult is the complete outcome of one run.
type ExecutionResult struct {
	// Status is Completed, Failed, or WhatIf.
	Status RunStatus `json:"Status"`

	// WorkflowName is the executed workflow.
	WorkflowName string `json:"WorkflowName"`

	// LifecycleEvent is the event the run served.
	LifecycleEvent string `json:"LifecycleEvent"`

	// CorrelationId ties the result to its request and plan.
	CorrelationId string `json:"CorrelationId"`

	// Steps holds primary step results keyed by step name. Steps never
	// reached after a fail-fast stop are absent.
	Steps map[string]StepResult `json:"Steps"`

	// OnFailure summarizes the remediation phase.
	OnFailure OnFailureResult `json:"OnFailure"`

	// Events is the ordered, append-only run timeline.
	Events []Event `json:"Events"`

	// StartedAtUtc is when the run started.
	StartedAtUtc time.Time `json:"StartedAtUtc"`

	// CompletedAtUtc is when the run finished.
	CompletedAtUtc time.Time `json:"CompletedAtUtc"`
}

// Event is one entry in the run timeline.
type Event struct {
	// Sequence is the zero-based position in the run timeline.
	Sequence int `json:"Sequence"`

	// Type is the event type.
	Type EventType `json:"Type"`

	// Message is a human-readable description.
	Message string `json:"Message"`

	// StepName is set for step-scoped events.
	StepName string `json:"StepName,omitempty"`

	// Data carries structured detail. Sensitive keys are redacted before
	// the event enters the timeline.
	Data map[string]interface{} `json:"Data,omitempty"`

	// TimestampUtc is when the event was recorded.
	TimestampUtc time.Time `json:"TimestampUtc"`
}

// RetryProfile shapes the retry loop for transient failures.
type RetryProfile struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `json:"MaxAttempts" yaml:"MaxAttempts" mapstructure:"MaxAttempts"`

	// InitialDelayMilliseconds is the delay before the second attempt.
	InitialDelayMilliseconds int `json:"InitialDelayMilliseconds" yaml:"InitialDelayMilliseconds" mapstructure:"InitialDelayMilliseconds"`

	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64 `json:"BackoffFactor" yaml:"BackoffFactor" mapstructure:"BackoffFactor"`

	// MaxDelayMilliseconds caps the computed delay.
	MaxDelayMilliseconds int `json:"MaxDelayMilliseconds" yaml:"MaxDelayMilliseconds" mapstructure:"MaxDelayMilliseconds"`

	// JitterRatio randomizes the delay by +/- delay*JitterRatio.
	JitterRatio float64 `json:"JitterRatio" yaml:"JitterRatio" mapstructure:"JitterRatio"`
}

// Validate checks the profile bounds.
func (p *RetryProfile) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry profile MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelayMilliseconds < 0 {
		return fmt.Errorf("retry profile InitialDelayMilliseconds must not be negative")
	}
	if p.MaxAttempts > 1 && p.BackoffFactor < 1.0 {
		return fmt.Errorf("retry profile BackoffFactor must be at least 1.0, got %g", p.BackoffFactor)
	}
	if p.MaxDelayMilliseconds < 0 {
		return fmt.Errorf("retry profile MaxDelayMilliseconds must not be negative")
	}
	if p.JitterRatio < 0 || p.JitterRatio > 1 {
		return fmt.Errorf("retry profile JitterRatio must be within [0, 1], got %g", p.JitterRatio)
	}
	return nil
}

// NoRetryProfile is the builtin fallback: a single attempt, no delays.
func NoRetryProfile() RetryProfile {
	return RetryProfile{MaxAttempts: 1}
}

// ExecutionOptions tune a run without touching the plan.
type ExecutionOptions struct {
	// RetryProfiles maps profile names to profiles.
	RetryProfiles map[string]RetryProfile `json:"RetryProfiles,omitempty" yaml:"RetryProfiles,omitempty" mapstructure:"RetryProfiles"`

	// DefaultRetryProfile names the profile for steps that declare none.
	// Empty falls back to the builtin single-attempt profile.
	DefaultRetryProfile string `json:"DefaultRetryProfile,omitempty" yaml:"DefaultRetryProfile,omitempty" mapstructure:"DefaultRetryProfile"`

	// WhatIf simulates the run: conditions are evaluated, handlers are not
	// invoked, and no state or target system changes.
	WhatIf bool `json:"WhatIf,omitempty" yaml:"WhatIf,omitempty" mapstructure:"WhatIf"`
}

// deepCopyMap copies a string-keyed map and everything below it. Scalars
// are shared; maps and slices are duplicated.
func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return deepCopyMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return value
	}
}
