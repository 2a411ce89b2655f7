package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/idlecore/idle/pkg/workflow"
)

// Builder turns a workflow definition and a lifecycle request into an
// immutable Plan. Building is pure: no provider I/O, no side effects, safe
// to run concurrently for different requests. The same definition, request,
// and provider capabilities always produce structurally identical steps.
type Builder struct {
	// handlers supplies the Type to capability catalog for steps without
	// an explicit RequiresCapabilities override.
	handlers *HandlerRegistry

	// policy backs {{Policy.*}} template expressions.
	policy map[string]interface{}

	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewBuilder creates a plan builder. A nil registry gets the builtin
// handlers.
func NewBuilder(handlers *HandlerRegistry, logger zerolog.Logger) *Builder {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Builder{
		handlers: handlers,
		logger:   logger.With().Str("component", "plan-builder").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

// SetPolicyData supplies the data backing {{Policy.*}} templates. Set it
// before the builder is shared across goroutines.
func (b *Builder) SetPolicyData(policy map[string]interface{}) {
	b.policy = policy
}

// BuildPlan validates the definition against the request and the wired
// providers and emits the plan. Capability findings are aggregated across
// every step before failing, so one build reports every gap at once.
func (b *Builder) BuildPlan(definition *workflow.Definition, request *LifecycleRequest, providers map[string]Provider) (*Plan, error) {
	if definition == nil {
		return nil, NewValidationError("workflow definition is nil", nil)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	// Definitions normally arrive through the loader, which guards the raw
	// document. Re-running the guard here covers programmatically built
	// definitions and requests too.
	if err := workflow.AssertNoExecutableContent(definition, "Workflow"); err != nil {
		return nil, NewSecurityError("workflow definition contains executable content", err)
	}
	if err := workflow.AssertNoExecutableContent(request, "Request"); err != nil {
		return nil, NewSecurityError("lifecycle request contains executable content", err)
	}
	if err := definition.Validate(); err != nil {
		return nil, NewValidationError("workflow definition is invalid", err)
	}
	if !definition.Matches(request.LifecycleEvent) {
		return nil, NewValidationError(
			fmt.Sprintf("workflow %q serves lifecycle event %q, request carries %q",
				definition.Name, definition.LifecycleEvent, request.LifecycleEvent), nil,
		)
	}

	// The caller's request stays untouched; the plan owns its own copy of
	// everything, including the generated correlation id.
	request = request.Clone()
	if request.CorrelationId == "" {
		request.CorrelationId = b.newID()
	}

	resolver := newTemplateResolver(request, b.policy)

	var findings []CapabilityFinding
	steps := make([]PlanStep, 0, len(definition.Steps))
	for i := range definition.Steps {
		step, stepFindings, err := b.buildStep(&definition.Steps[i], resolver, providers)
		if err != nil {
			return nil, err
		}
		findings = append(findings, stepFindings...)
		steps = append(steps, step)
	}

	var onFailureSteps []PlanStep
	for i := range definition.OnFailureSteps {
		step, stepFindings, err := b.buildStep(&definition.OnFailureSteps[i], resolver, providers)
		if err != nil {
			return nil, err
		}
		findings = append(findings, stepFindings...)
		onFailureSteps = append(onFailureSteps, step)
	}

	if len(findings) > 0 {
		capErr := &CapabilityError{Findings: findings}
		capErr.Sort()
		return nil, capErr
	}

	plan := &Plan{
		WorkflowName:   definition.Name,
		LifecycleEvent: request.LifecycleEvent,
		CorrelationId:  request.CorrelationId,
		BuiltAtUtc:     b.now(),
		Steps:          steps,
		OnFailureSteps: onFailureSteps,
	}
	b.logger.Debug().
		Str("workflow", plan.WorkflowName).
		Str("correlation_id", plan.CorrelationId).
		Int("steps", len(plan.Steps)).
		Int("on_failure_steps", len(plan.OnFailureSteps)).
		Msg("Built plan")
	return plan, nil
}

// buildStep resolves one definition step into a plan step and collects its
// missing-capability findings.
func (b *Builder) buildStep(step *workflow.Step, resolver *templateResolver, providers map[string]Provider) (PlanStep, []CapabilityFinding, error) {
	resolvedWith, err := resolver.ResolveWith(step.Name, step.With)
	if err != nil {
		return PlanStep{}, nil, err
	}
	// Resolved values may alias containers owned by the request; the plan
	// keeps its own copies so later request mutations cannot reach it.
	resolvedWith = deepCopyMap(resolvedWith)

	required := step.RequiresCapabilities
	if len(required) == 0 {
		catalog, known := b.handlers.Capabilities(step.Type)
		if !known {
			return PlanStep{}, nil, NewValidationError(
				fmt.Sprintf("step %q has unknown type %q and declares no RequiresCapabilities", step.Name, step.Type), nil,
			).WithStep(step.Name).WithCode(ErrCodeUnknownStepType)
		}
		required = catalog
	} else {
		required = append([]string(nil), required...)
	}

	alias := DefaultProviderAlias
	if explicit, ok := resolvedWith[WithKeyProvider].(string); ok && explicit != "" {
		alias = explicit
	}

	output := step.Output
	if output == "" {
		output = step.Name
	}

	var findings []CapabilityFinding
	provider, wired := providers[alias]
	for _, capability := range required {
		if !wired || provider == nil || !HasCapability(provider, capability) {
			findings = append(findings, CapabilityFinding{
				Step:       step.Name,
				Provider:   alias,
				Capability: capability,
			})
		}
	}

	planStep := PlanStep{
		Name:                 step.Name,
		Type:                 step.Type,
		With:                 resolvedWith,
		Condition:            step.Condition.Clone(),
		RequiresCapabilities: required,
		RetryProfile:         step.RetryProfile,
		ProviderAlias:        alias,
		Output:               output,
	}
	return planStep, findings, nil
}

// ValidatePlanCapabilities re-checks a plan's capability requirements
// against the wired providers. Freshly built plans are already checked;
// this covers plans that arrive through ImportPlan before they execute.
func ValidatePlanCapabilities(plan *Plan, providers map[string]Provider) error {
	if plan == nil {
		return NewValidationError("plan is nil", nil)
	}
	var findings []CapabilityFinding
	collect := func(steps []PlanStep) {
		for i := range steps {
			step := &steps[i]
			provider, wired := providers[step.ProviderAlias]
			for _, capability := range step.RequiresCapabilities {
				if !wired || provider == nil || !HasCapability(provider, capability) {
					findings = append(findings, CapabilityFinding{
						Step:       step.Name,
						Provider:   step.ProviderAlias,
						Capability: capability,
					})
				}
			}
		}
	}
	collect(plan.Steps)
	collect(plan.OnFailureSteps)
	if len(findings) > 0 {
		capErr := &CapabilityError{Findings: findings}
		capErr.Sort()
		return capErr
	}
	return nil
}
