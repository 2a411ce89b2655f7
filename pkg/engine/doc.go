// Package engine provides the core types and operations of the IdLE
// identity lifecycle engine.
//
// # Overview
//
// IdLE turns declarative identity workflows into deterministic, reviewable
// plans and executes them against capability-advertising providers. The
// engine operates in two strictly separated phases:
//
//  1. Build - Validate the workflow against the request and the wired
//     providers, resolve templates, and emit an immutable Plan (Builder)
//  2. Run - Execute the plan step by step, fail-fast, with best-effort
//     remediation and a complete event timeline (Executor)
//
// Nothing touches a target system during build; a plan can be exported,
// diffed, and approved before anything runs.
//
// # Core Domain Types
//
// The package defines the types that represent the execution model:
//
//   - LifecycleRequest: One identity lifecycle occurrence (Joiner, Mover,
//     Leaver, or a custom event) with its payload
//   - Plan: The immutable, fully resolved product of plan building
//   - PlanStep: A single resolved step with its capabilities, provider
//     alias, retry profile, and output namespace
//   - ExecutionResult: The complete outcome of one run, including per-step
//     results, the remediation summary, and the event timeline
//   - Event: One entry in the append-only, ordered run timeline
//   - RetryProfile: Bounded exponential backoff with jitter for transient
//     provider failures
//
// # Provider Contract
//
// Providers advertise what they can do and implement only the narrow
// operation interfaces they support:
//
//	type Provider interface {
//	    Name() string
//	    GetCapabilities() []string
//	}
//
// The plan builder refuses any plan whose steps require capabilities the
// wired providers do not advertise, aggregating every gap across every step
// into a single CapabilityError before failing.
//
// # Security Boundary
//
// Workflow documents, requests, and auth session options are data-only.
// The executable-content guard walks every value to unbounded depth and
// rejects functions, channels, and unsafe pointers before any provider
// sees the data.
//
// # Error Classification
//
// Errors carry a class used by the retry loop and the host:
//
//   - Validation: malformed input, failed templates, unknown step types
//   - Security: executable content detected
//   - Capability: missing provider capabilities, aggregated per build
//   - Transient: provider-classified as retryable
//   - Permanent: everything that retrying cannot fix
//
// Use the helper predicates to inspect errors:
//
//	if engine.IsTransient(err) {
//	    // The retry loop will have handled this already.
//	}
//
// # Example Usage
//
// Basic flow from a workflow document to a run result:
//
//	// 1. Load the workflow (guarded, schema-validated)
//	definition, err := loader.Load(documentBytes)
//
//	// 2. Build the plan
//	builder := engine.NewBuilder(nil, logger)
//	plan, err := builder.BuildPlan(definition, request, providers)
//
//	// 3. Execute
//	executor := engine.NewExecutor(nil, options, logger)
//	run := engine.NewExecutionContext(providers, sink, broker)
//	result, err := executor.Execute(ctx, plan, request, run)
//
//	// 4. Inspect
//	if result.Status == engine.RunStatusFailed {
//	    // result.Steps, result.OnFailure, result.Events
//	}
//
// # Concurrency
//
// A single run is strictly sequential. Independent runs may execute
// concurrently: each owns its ExecutionContext and State, while the Plan,
// the Providers map, and the SessionBroker are shared read-only.
package engine
