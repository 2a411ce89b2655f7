package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Builtin step types. The handler registry maps each to its handler and
// required capabilities; workflows may use additional types by registering
// custom handlers.
const (
	// StepTypeGetIdentity reads an identity.
	StepTypeGetIdentity = "IdLE.Step.GetIdentity"

	// StepTypeCreateIdentity creates an identity if absent.
	StepTypeCreateIdentity = "IdLE.Step.CreateIdentity"

	// StepTypeEnsureAttribute converges one attribute to a desired value.
	StepTypeEnsureAttribute = "IdLE.Step.EnsureAttribute"

	// StepTypeDisableIdentity disables an identity.
	StepTypeDisableIdentity = "IdLE.Step.DisableIdentity"

	// StepTypeDeleteIdentity deletes an identity.
	StepTypeDeleteIdentity = "IdLE.Step.DeleteIdentity"

	// StepTypeListEntitlements lists entitlement assignments.
	StepTypeListEntitlements = "IdLE.Step.ListEntitlements"

	// StepTypeGrantEntitlement grants an entitlement.
	StepTypeGrantEntitlement = "IdLE.Step.GrantEntitlement"

	// StepTypeRevokeEntitlement revokes an entitlement.
	StepTypeRevokeEntitlement = "IdLE.Step.RevokeEntitlement"
)

// Option keys the engine itself consumes from a step's With map. Everything
// else in With belongs to the step's handler.
const (
	// WithKeyProvider selects the provider alias for the step.
	WithKeyProvider = "Provider"

	// WithKeyAuthSessionName names the auth session the step needs.
	WithKeyAuthSessionName = "AuthSessionName"

	// WithKeyAuthSessionOptions carries broker options for the session.
	WithKeyAuthSessionOptions = "AuthSessionOptions"

	// WithKeyIdentityKeys overrides the request's identity keys for the step.
	WithKeyIdentityKeys = "IdentityKeys"
)

// DefaultProviderAlias is the provider alias used when a step's With map
// does not name one.
const DefaultProviderAlias = "default"

// StepOutcome is what a handler reports on success.
type StepOutcome struct {
	// Changed reports whether the target system was modified.
	Changed bool

	// Output is written into the run state under the step's output
	// namespace. Nil means the step publishes no state.
	Output map[string]interface{}
}

// StepHandler executes one resolved plan step. Handlers must not capture
// mutable state of their own: the same registry serves concurrent runs.
type StepHandler interface {
	Execute(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error)
}

// HandlerFunc adapts a function to the StepHandler interface.
type HandlerFunc func(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error)

// Execute implements StepHandler.
func (f HandlerFunc) Execute(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	return f(ctx, run, step)
}

type handlerEntry struct {
	handler      StepHandler
	capabilities []string
}

// HandlerRegistry maps step types to handlers and the capabilities each
// type requires. It doubles as the capability catalog the plan builder
// consults for steps that declare no explicit RequiresCapabilities.
type HandlerRegistry struct {
	mu      sync.RWMutex
	entries map[string]handlerEntry
}

// NewHandlerRegistry returns a registry preloaded with the builtin
// IdLE.Step.* handlers.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{entries: make(map[string]handlerEntry)}
	builtin := []struct {
		stepType     string
		capabilities []string
		handler      HandlerFunc
	}{
		{StepTypeGetIdentity, []string{CapabilityIdentityRead}, handleGetIdentity},
		{StepTypeCreateIdentity, []string{CapabilityIdentityCreate}, handleCreateIdentity},
		{StepTypeEnsureAttribute, []string{CapabilityIdentityWrite}, handleEnsureAttribute},
		{StepTypeDisableIdentity, []string{CapabilityIdentityDisable}, handleDisableIdentity},
		{StepTypeDeleteIdentity, []string{CapabilityIdentityDelete}, handleDeleteIdentity},
		{StepTypeListEntitlements, []string{CapabilityEntitlementRead}, handleListEntitlements},
		{StepTypeGrantEntitlement, []string{CapabilityEntitlementGrant}, handleGrantEntitlement},
		{StepTypeRevokeEntitlement, []string{CapabilityEntitlementRevoke}, handleRevokeEntitlement},
	}
	for _, b := range builtin {
		r.entries[b.stepType] = handlerEntry{handler: b.handler, capabilities: b.capabilities}
	}
	return r
}

// Register adds or replaces a handler for a step type, together with the
// capabilities the type requires from its provider.
func (r *HandlerRegistry) Register(stepType string, capabilities []string, handler StepHandler) error {
	if stepType == "" {
		return NewValidationError("handler registration requires a step type", nil)
	}
	if handler == nil {
		return NewValidationError(fmt.Sprintf("handler for step type %q is nil", stepType), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[stepType] = handlerEntry{
		handler:      handler,
		capabilities: append([]string(nil), capabilities...),
	}
	return nil
}

// Handler returns the handler for a step type.
func (r *HandlerRegistry) Handler(stepType string) (StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[stepType]
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// Capabilities returns the capability set a step type requires. The second
// return is false for unknown types.
func (r *HandlerRegistry) Capabilities(stepType string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[stepType]
	if !ok {
		return nil, false
	}
	return append([]string(nil), entry.capabilities...), true
}

// Types returns the registered step types, sorted.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// providerForStep resolves the step's provider from the run context.
func providerForStep(run *ExecutionContext, step *PlanStep) (Provider, error) {
	p, ok := run.Providers[step.ProviderAlias]
	if !ok || p == nil {
		return nil, NewPermanentError(
			fmt.Sprintf("no provider wired for alias %q", step.ProviderAlias), nil,
		).WithStep(step.Name).WithCode(ErrCodeProviderMissing)
	}
	return p, nil
}

// identityKeysForStep returns the step's identity keys: the With override
// when present, else the request's keys.
func identityKeysForStep(run *ExecutionContext, step *PlanStep) map[string]interface{} {
	if keys, ok := step.With[WithKeyIdentityKeys].(map[string]interface{}); ok {
		return keys
	}
	if run.Request != nil {
		return run.Request.IdentityKeys
	}
	return nil
}

// stringOption reads a string value from the step's With map.
func stringOption(step *PlanStep, key string) (string, bool) {
	s, ok := step.With[key].(string)
	return s, ok
}

// requireStringOption reads a mandatory string option.
func requireStringOption(step *PlanStep, key string) (string, error) {
	s, ok := stringOption(step, key)
	if !ok || s == "" {
		return "", NewValidationError(
			fmt.Sprintf("step %q requires a non-empty string option %q", step.Name, key), nil,
		).WithStep(step.Name)
	}
	return s, nil
}

func unsupportedOperation(p Provider, step *PlanStep, operation string) error {
	return NewPermanentError(
		fmt.Sprintf("provider %q does not implement %s", p.Name(), operation), nil,
	).WithStep(step.Name).WithOperation(operation).WithCode(ErrCodeProviderFailed)
}

// Provider errors pass through the handlers unchanged so transient
// classification survives for the retry loop.

func handleGetIdentity(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	reader, ok := p.(IdentityReader)
	if !ok {
		return nil, unsupportedOperation(p, step, "GetIdentity")
	}
	result, err := reader.GetIdentity(ctx, &GetIdentityRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{
		Changed: result.Changed,
		Output: map[string]interface{}{
			"Found":    result.Found,
			"Identity": result.Identity,
		},
	}, nil
}

func handleCreateIdentity(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	writer, ok := p.(IdentityWriter)
	if !ok {
		return nil, unsupportedOperation(p, step, "CreateIdentity")
	}
	attributes, _ := step.With["Attributes"].(map[string]interface{})
	if attributes == nil && run.Request != nil {
		attributes = run.Request.DesiredState
	}
	result, err := writer.CreateIdentity(ctx, &CreateIdentityRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
		Attributes:   attributes,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{
		Changed: result.Changed,
		Output: map[string]interface{}{
			"Identity": result.Identity,
		},
	}, nil
}

func handleEnsureAttribute(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	writer, ok := p.(IdentityWriter)
	if !ok {
		return nil, unsupportedOperation(p, step, "EnsureAttribute")
	}
	attribute, err := requireStringOption(step, "Attribute")
	if err != nil {
		return nil, err
	}
	value, ok := step.With["Value"]
	if !ok {
		return nil, NewValidationError(
			fmt.Sprintf("step %q requires option %q", step.Name, "Value"), nil,
		).WithStep(step.Name)
	}
	result, err := writer.EnsureAttribute(ctx, &EnsureAttributeRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
		Attribute:    attribute,
		Value:        value,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{
		Changed: result.Changed,
		Output: map[string]interface{}{
			"Attribute":     attribute,
			"PreviousValue": result.PreviousValue,
		},
	}, nil
}

func handleDisableIdentity(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	lifecycler, ok := p.(IdentityLifecycler)
	if !ok {
		return nil, unsupportedOperation(p, step, "DisableIdentity")
	}
	reason, _ := stringOption(step, "Reason")
	result, err := lifecycler.DisableIdentity(ctx, &DisableIdentityRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
		Reason:       reason,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{Changed: result.Changed}, nil
}

func handleDeleteIdentity(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	lifecycler, ok := p.(IdentityLifecycler)
	if !ok {
		return nil, unsupportedOperation(p, step, "DeleteIdentity")
	}
	result, err := lifecycler.DeleteIdentity(ctx, &DeleteIdentityRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{Changed: result.Changed}, nil
}

func handleListEntitlements(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	manager, ok := p.(EntitlementManager)
	if !ok {
		return nil, unsupportedOperation(p, step, "ListEntitlements")
	}
	result, err := manager.ListEntitlements(ctx, &ListEntitlementsRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
	})
	if err != nil {
		return nil, err
	}
	entitlements := result.Entitlements
	if entitlements == nil {
		entitlements = []string{}
	}
	return &StepOutcome{
		Changed: result.Changed,
		Output: map[string]interface{}{
			"Entitlements": entitlements,
		},
	}, nil
}

func handleGrantEntitlement(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	manager, ok := p.(EntitlementManager)
	if !ok {
		return nil, unsupportedOperation(p, step, "GrantEntitlement")
	}
	entitlement, err := requireStringOption(step, "Entitlement")
	if err != nil {
		return nil, err
	}
	result, err := manager.GrantEntitlement(ctx, &GrantEntitlementRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
		Entitlement:  entitlement,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{
		Changed: result.Changed,
		Output: map[string]interface{}{
			"Entitlement": entitlement,
		},
	}, nil
}

func handleRevokeEntitlement(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
	p, err := providerForStep(run, step)
	if err != nil {
		return nil, err
	}
	manager, ok := p.(EntitlementManager)
	if !ok {
		return nil, unsupportedOperation(p, step, "RevokeEntitlement")
	}
	entitlement, err := requireStringOption(step, "Entitlement")
	if err != nil {
		return nil, err
	}
	result, err := manager.RevokeEntitlement(ctx, &RevokeEntitlementRequest{
		Session:      run.Session,
		IdentityKeys: identityKeysForStep(run, step),
		Entitlement:  entitlement,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutcome{
		Changed: result.Changed,
		Output: map[string]interface{}{
			"Entitlement": entitlement,
		},
	}, nil
}
