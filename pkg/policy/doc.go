// Package policy provides Open Policy Agent (OPA) integration for IdLE.
//
// This package implements plan admission: after a plan is built and before it
// executes, every enabled Rego policy evaluates the plan and the lifecycle
// request it was built from. It includes built-in policies for common
// identity governance requirements and supports custom policy loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies against plans
//  2. Gate - Adapts the engine to the engine.PlanGate contract
//  3. Loader - Loads policies from files, directories, and bundles
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine and gating a plan:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.EvaluatePlan(ctx, plan, request)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/idle/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. lifecycle-safety - Blocks destructive steps that contradict the event
//  2. correlation-required - Requires a correlation id before granting access
//  3. leaver-access - Flags leaver plans that grant new entitlements
//  4. production-safety - Restricts identity deletion in production
//  5. sensitive-attributes - Keeps credential material out of attribute writes
//
// # Custom Policies
//
// Custom policies are written in Rego and loaded from files. Policies see the
// plan as input.Plan, the request as input.Request, and the evaluation
// context as input.Context:
//
//	package custom.policies.contractors
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.Request.Input.EmployeeType == "contractor"
//	    some step in input.Plan.Steps
//	    step.Type == "IdLE.Step.GrantEntitlement"
//	    step.With.Entitlement == "production-deploy"
//
//	    violation := {
//	        "message": "Contractors cannot receive production deploy access",
//	        "severity": "error",
//	        "step": step.Name,
//	    }
//	}
//
// Shared reference data installed through SetData is visible to custom
// policies under data.policy_data. The same document typically feeds the plan
// builder's Policy.* template root, so the values a workflow templates from
// and the values policies check against stay in one place.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: Informational messages
//   - warning: Findings that should be reviewed but don't block the run
//   - error: Violations that block the run
//   - critical: Violations that must never reach a target system
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are compiled once and reused for multiple evaluations. The engine
// prepares each policy's deny query with OPA's PreparedEvalQuery and caches
// loaded files at the loader level.
package policy
