package engine_test

import (
	"time"

	"github.com/idlecore/idle/pkg/engine"
	"github.com/idlecore/idle/pkg/workflow"
)

// Example_workflow demonstrates how the core types compose together in a
// typical IdLE plan-and-execute cycle.
func Example_workflow() {
	// 1. Define a workflow for a lifecycle event
	definition := workflow.Definition{
		Name:           "joiner-standard",
		LifecycleEvent: "Joiner",
		Steps: []workflow.Step{
			{
				Name:   "create-account",
				Type:   engine.StepTypeCreateIdentity,
				With:   map[string]interface{}{"Provider": "directory"},
				Output: "create-account",
			},
			{
				Name: "set-department",
				Type: engine.StepTypeEnsureAttribute,
				With: map[string]interface{}{
					"Provider":  "directory",
					"Attribute": "department",
					"Value":     "{{ Request.Input.Department }}",
				},
				Output: "set-department",
			},
		},
		OnFailureSteps: []workflow.Step{
			{
				Name:   "disable-account",
				Type:   engine.StepTypeDisableIdentity,
				With:   map[string]interface{}{"Provider": "directory"},
				Output: "disable-account",
			},
		},
	}

	// 2. Describe the person the event is about
	request := engine.LifecycleRequest{
		LifecycleEvent: "Joiner",
		CorrelationId:  "corr-0001",
		Actor:          "hr-feed",
		IdentityKeys:   map[string]interface{}{"EmployeeId": "E1001"},
		Input:          map[string]interface{}{"Department": "Engineering"},
		DesiredState:   map[string]interface{}{"displayName": "Jordan Smith"},
	}

	// 3. The builder resolves templates and freezes the plan
	plan := engine.Plan{
		WorkflowName:   "joiner-standard",
		LifecycleEvent: "Joiner",
		CorrelationId:  "corr-0001",
		BuiltAtUtc:     time.Now().UTC(),
		Steps: []engine.PlanStep{
			{
				Name:                 "create-account",
				Type:                 engine.StepTypeCreateIdentity,
				ProviderAlias:        "directory",
				RequiresCapabilities: []string{engine.CapabilityIdentityCreate},
				Output:               "create-account",
			},
			{
				Name:          "set-department",
				Type:          engine.StepTypeEnsureAttribute,
				ProviderAlias: "directory",
				With: map[string]interface{}{
					"Attribute": "department",
					"Value":     "Engineering",
				},
				RequiresCapabilities: []string{engine.CapabilityIdentityWrite},
				Output:               "set-department",
			},
		},
	}

	// 4. Execution produces per-step results and an ordered timeline
	result := engine.ExecutionResult{
		Status:         engine.RunStatusCompleted,
		WorkflowName:   "joiner-standard",
		LifecycleEvent: "Joiner",
		CorrelationId:  "corr-0001",
		Steps: map[string]engine.StepResult{
			"create-account": {Status: engine.StepStatusCompleted, Changed: true, Attempts: 1},
			"set-department": {Status: engine.StepStatusCompleted, Changed: true, Attempts: 1},
		},
		OnFailure: engine.OnFailureResult{Status: engine.OnFailureNotRun},
		Events: []engine.Event{
			{
				Sequence: 0,
				Type:     engine.EventRunStarted,
				Message:  "run started",
			},
		},
	}

	// Types compose cleanly: Definition -> Request -> Plan -> Result
	_, _, _, _ = definition, request, plan, result
}

// Example_provider demonstrates the provider operation contract.
func Example_provider() {
	// Provider request/result cycle for an attribute convergence
	ensureReq := engine.EnsureAttributeRequest{
		IdentityKeys: map[string]interface{}{"EmployeeId": "E1001"},
		Attribute:    "department",
		Value:        "Engineering",
	}
	ensureRes := engine.EnsureAttributeResult{
		Changed:       true,
		PreviousValue: "Sales",
	}

	// Reads report existence without changing anything
	getReq := engine.GetIdentityRequest{
		IdentityKeys: map[string]interface{}{"EmployeeId": "E1001"},
	}
	getRes := engine.GetIdentityResult{
		Found:    true,
		Identity: map[string]interface{}{"department": "Engineering"},
	}

	// Providers advertise what they can do; the builder gates plans on it
	required := []string{
		engine.CapabilityIdentityRead,
		engine.CapabilityIdentityWrite,
	}

	_, _, _, _, _ = ensureReq, ensureRes, getReq, getRes, required
}

// Example_errorClassification demonstrates error classification and handling.
func Example_errorClassification() {
	// Transient errors are retried with backoff
	transientErr := engine.NewTransientError("directory unreachable", nil).
		WithStep("set-department").
		WithOperation("EnsureAttribute")

	// Permanent errors fail the step on the first attempt
	permanentErr := engine.NewPermanentError("identity not found", nil).
		WithCode(engine.ErrCodeProviderFailed).
		WithDetail("EmployeeId", "E1001")

	canRetry := engine.IsRetryable(transientErr)
	cannotRetry := !engine.IsRetryable(permanentErr)

	_, _, _ = transientErr, permanentErr, canRetry && cannotRetry
}

// Example_statusValidation demonstrates status enum validation.
func Example_statusValidation() {
	status := engine.RunStatusCompleted
	isValid := status.Validate() == nil

	// Skipped is terminal: a skipped step never reruns within the run
	stepStatus := engine.StepStatusSkipped
	isTerminal := stepStatus.IsTerminal()

	_, _ = isValid, isTerminal
}
