package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/idlecore/idle/pkg/engine"
)

// dataRoot is where SetData mounts the shared policy data document. It is
// deliberately outside idle.policies so base and virtual documents never
// overlap.
const dataRoot = "policy_data"

// Engine evaluates admission policies against built plans.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	environment     string
	data            map[string]interface{}
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy with its prepared deny
// query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetEnvironment sets the deployment environment policies see as
// input.Context.Environment.
func (e *Engine) SetEnvironment(environment string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.environment = environment
}

// SetData replaces the shared policy data document. Custom policies read it
// under data.policy_data. The same document typically feeds the plan
// builder's Policy.* template root.
func (e *Engine) SetData(ctx context.Context, doc map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data = doc
	e.store = inmem.NewFromObject(map[string]interface{}{dataRoot: doc})

	// Prepared queries bind the store, so every policy recompiles.
	for name, cp := range e.policies {
		if err := e.compileAndStorePolicy(ctx, cp.policy); err != nil {
			return fmt.Errorf("failed to recompile policy %s: %w", name, err)
		}
	}

	e.logger.Debug().Int("keys", len(doc)).Msg("Policy data replaced")
	return nil
}

// Data returns the current shared policy data document.
func (e *Engine) Data() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data
}

// EvaluatePlan evaluates every enabled policy against a built plan and the
// request it was built from.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan, request *engine.LifecycleRequest) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}

	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{
		Plan:    plan,
		Request: request,
		Context: &Context{
			Environment: e.environment,
			Operation:   "run",
			Timestamp:   startTime,
		},
	}
	if request != nil {
		input.Context.Actor = request.Actor
	}

	var allViolations []Violation
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("workflow", plan.WorkflowName).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		allViolations = append(allViolations, violations...)
	}

	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity.Blocks() {
			allowed = false
			break
		}
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("workflow", plan.WorkflowName).
		Str("correlation_id", plan.CorrelationId).
		Int("violations", len(allViolations)).
		Bool("allowed", allowed).
		Dur("duration", duration).
		Msg("Plan policy evaluation completed")

	return &Result{
		Allowed:           allowed,
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluatedPolicies,
		EvaluatedAt:       startTime,
		Duration:          duration,
	}, nil
}

// LoadPolicies loads policy files from the given paths into the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy runs one compiled policy's deny query against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "idle.policies"
}

// createViolation builds a Violation from one deny result.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if step, ok := v["step"].(string); ok {
			violation.Step = step
		}
		if fix, ok := v["remediation"].(string); ok {
			violation.Remediation = fix
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and prepares its deny query.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies compiles the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and recompiles the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}

// Gate adapts the policy engine to the engine.PlanGate contract, so the
// executor side can consult policies without knowing about Rego.
type Gate struct {
	engine *Engine
}

// NewGate wraps a policy engine as a plan gate.
func NewGate(e *Engine) *Gate {
	return &Gate{engine: e}
}

// CheckPlan evaluates every enabled policy and reduces the outcome to an
// allow/deny decision with the blocking messages as reasons.
func (g *Gate) CheckPlan(ctx context.Context, plan *engine.Plan, request *engine.LifecycleRequest) (*engine.GateDecision, error) {
	result, err := g.engine.EvaluatePlan(ctx, plan, request)
	if err != nil {
		return nil, err
	}

	return &engine.GateDecision{
		Allowed: result.Allowed,
		Reasons: result.BlockingMessages(),
	}, nil
}

var _ engine.PlanGate = (*Gate)(nil)
