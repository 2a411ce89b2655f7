package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ExecutionContext carries everything one run needs: the wired providers,
// the optional event sink and session broker, and the mutable run state.
// The host fills the dependency fields; the executor owns the rest. One
// context serves exactly one run.
type ExecutionContext struct {
	// Providers maps provider aliases to providers. Treated as read-only
	// for the whole run.
	Providers map[string]Provider

	// EventSink receives every run event synchronously. Optional.
	EventSink EventSink

	// Broker acquires auth sessions for steps that declare one. Optional;
	// a step requesting a session without a broker fails with a clear error.
	Broker SessionBroker

	// State is the namespaced run state. A step's output replaces the whole
	// namespace under its Output key; nothing is deep-merged.
	State map[string]interface{}

	// WhatIf simulates the run: conditions are evaluated, handlers are not
	// invoked, and no state or target system changes.
	WhatIf bool

	// Plan is the plan being executed. Set by the executor.
	Plan *Plan

	// Request is the run's lifecycle request. Set by the executor.
	Request *LifecycleRequest

	// Session is the auth session for the step currently executing, nil
	// when the step declares none. Set by the executor before each handler
	// invocation and cleared afterwards.
	Session AuthSession

	events *Recorder
	logger zerolog.Logger
}

// NewExecutionContext assembles a run context around the given providers.
func NewExecutionContext(providers map[string]Provider, sink EventSink, broker SessionBroker) *ExecutionContext {
	return &ExecutionContext{
		Providers: providers,
		EventSink: sink,
		Broker:    broker,
		State:     make(map[string]interface{}),
	}
}

// Events returns the run timeline recorded so far.
func (run *ExecutionContext) Events() []Event {
	if run.events == nil {
		return nil
	}
	return run.events.Events()
}

// Logger returns the run-scoped logger.
func (run *ExecutionContext) Logger() zerolog.Logger {
	return run.logger
}

// Validate checks the options before a run starts.
func (o *ExecutionOptions) Validate() error {
	for name := range o.RetryProfiles {
		profile := o.RetryProfiles[name]
		if err := profile.Validate(); err != nil {
			return NewValidationError(fmt.Sprintf("retry profile %q is invalid", name), err)
		}
	}
	if o.DefaultRetryProfile != "" {
		if _, ok := o.RetryProfiles[o.DefaultRetryProfile]; !ok {
			return NewValidationError(fmt.Sprintf("default retry profile %q is not defined", o.DefaultRetryProfile), nil)
		}
	}
	return nil
}

// Executor runs plans step by step, strictly sequentially. A primary step
// failure stops the primary phase immediately and hands over to the
// best-effort OnFailure phase. Independent runs may execute concurrently;
// each owns its ExecutionContext while the plan and providers are shared
// read-only.
type Executor struct {
	handlers *HandlerRegistry
	options  ExecutionOptions
	logger   zerolog.Logger
	sleep    Sleeper
	now      func() time.Time
}

// NewExecutor creates an executor. A nil registry gets the builtin handlers.
func NewExecutor(handlers *HandlerRegistry, options ExecutionOptions, logger zerolog.Logger) *Executor {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Executor{
		handlers: handlers,
		options:  options,
		logger:   logger.With().Str("component", "executor").Logger(),
		sleep:    defaultSleeper,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs the plan and returns the complete result. Step failures are
// reported inside the result, not as the returned error; the error covers
// problems that prevent the run from starting at all.
func (e *Executor) Execute(ctx context.Context, plan *Plan, request *LifecycleRequest, run *ExecutionContext) (*ExecutionResult, error) {
	if plan == nil {
		return nil, NewValidationError("plan is nil", nil)
	}
	if run == nil {
		return nil, NewValidationError("execution context is nil", nil)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	if err := e.options.Validate(); err != nil {
		return nil, err
	}

	// The run owns its request copy; the plan's correlation id wins when
	// the request carries none.
	request = request.Clone()
	if request.CorrelationId == "" {
		request.CorrelationId = plan.CorrelationId
	}

	run.Plan = plan
	run.Request = request
	run.WhatIf = run.WhatIf || e.options.WhatIf
	if run.State == nil {
		run.State = make(map[string]interface{})
	}
	run.logger = e.logger.With().
		Str("workflow", plan.WorkflowName).
		Str("correlation_id", request.CorrelationId).
		Logger()
	run.events = NewRecorder(run.EventSink, run.logger)

	result := &ExecutionResult{
		Status:         RunStatusCompleted,
		WorkflowName:   plan.WorkflowName,
		LifecycleEvent: plan.LifecycleEvent,
		CorrelationId:  request.CorrelationId,
		Steps:          make(map[string]StepResult),
		OnFailure:      OnFailureResult{Status: OnFailureNotRun},
		StartedAtUtc:   e.now(),
	}

	run.events.Record(ctx, EventRunStarted,
		fmt.Sprintf("Run started: workflow %q, event %q", plan.WorkflowName, plan.LifecycleEvent),
		"", map[string]interface{}{
			"WorkflowName":   plan.WorkflowName,
			"LifecycleEvent": plan.LifecycleEvent,
			"CorrelationId":  request.CorrelationId,
			"WhatIf":         run.WhatIf,
		})

	// Primary phase: strictly in order, fail-fast. Steps after a failure
	// are never invoked and never appear in the result.
	primaryFailed := false
	failedStep := ""
	for i := range plan.Steps {
		step := &plan.Steps[i]
		stepResult, failed := e.runStep(ctx, run, step)
		result.Steps[step.Name] = stepResult
		if failed {
			primaryFailed = true
			failedStep = step.Name
			break
		}
	}

	// OnFailure phase: best-effort remediation, every step attempted no
	// matter how the earlier ones fared. The overall status stays Failed.
	if primaryFailed && len(plan.OnFailureSteps) > 0 {
		result.OnFailure.Steps = make(map[string]StepResult)
		remediationFailures := 0
		for i := range plan.OnFailureSteps {
			step := &plan.OnFailureSteps[i]
			stepResult, failed := e.runStep(ctx, run, step)
			result.OnFailure.Steps[step.Name] = stepResult
			if failed {
				remediationFailures++
				run.logger.Error().
					Err(&OnFailureStepError{Step: step.Name, Err: fmt.Errorf("%s", stepResult.Error)}).
					Msg("Remediation step failed")
			}
		}
		if remediationFailures > 0 {
			result.OnFailure.Status = OnFailurePartiallyFailed
		} else {
			result.OnFailure.Status = OnFailureCompleted
		}
	}

	switch {
	case primaryFailed:
		result.Status = RunStatusFailed
	case run.WhatIf:
		result.Status = RunStatusWhatIf
	default:
		result.Status = RunStatusCompleted
	}

	completionData := map[string]interface{}{
		"Status":        string(result.Status),
		"CorrelationId": request.CorrelationId,
		"Steps":         len(result.Steps),
	}
	if primaryFailed {
		completionData["FailedStep"] = failedStep
		completionData["OnFailureStatus"] = string(result.OnFailure.Status)
	}
	run.events.Record(ctx, EventRunCompleted,
		fmt.Sprintf("Run completed with status %s", result.Status),
		"", completionData)

	result.Events = run.events.Events()
	result.CompletedAtUtc = e.now()

	run.logger.Info().
		Str("status", string(result.Status)).
		Int("steps", len(result.Steps)).
		Int("sink_errors", run.events.SinkErrors()).
		Msg("Run finished")
	return result, nil
}

// runStep executes one step: condition, session, handler under retry, state
// commit. The second return reports whether the step failed.
func (e *Executor) runStep(ctx context.Context, run *ExecutionContext, step *PlanStep) (StepResult, bool) {
	started := e.now()

	doc := conditionDocument(run.Plan, run.Request, run.State)
	holds, err := evaluateCondition(step.Condition, doc)
	if err != nil {
		return e.failStep(ctx, run, step, started, 0, err), true
	}
	if !holds {
		result := StepResult{
			Status:               StepStatusSkipped,
			DurationMilliseconds: e.since(started),
		}
		run.events.Record(ctx, EventStepSkipped,
			fmt.Sprintf("Step %q skipped: condition evaluated to false", step.Name),
			step.Name, map[string]interface{}{"Reason": "ConditionFalse"})
		return result, false
	}

	run.events.Record(ctx, EventStepStarted,
		fmt.Sprintf("Step %q started", step.Name),
		step.Name, map[string]interface{}{
			"Type":     step.Type,
			"Provider": step.ProviderAlias,
		})

	if run.WhatIf {
		// Simulation stops at the handler boundary: no session, no provider
		// call, no state write.
		result := StepResult{
			Status:               StepStatusCompleted,
			Changed:              false,
			DurationMilliseconds: e.since(started),
		}
		run.events.Record(ctx, EventStepCompleted,
			fmt.Sprintf("Step %q simulated", step.Name),
			step.Name, map[string]interface{}{"WhatIf": true, "Changed": false})
		return result, false
	}

	session, err := acquireStepSession(ctx, run, step)
	if err != nil {
		return e.failStep(ctx, run, step, started, 0, err), true
	}
	run.Session = session
	defer func() { run.Session = nil }()

	handler, ok := e.handlers.Handler(step.Type)
	if !ok {
		err := NewPermanentError(
			fmt.Sprintf("no handler registered for step type %q", step.Type), nil,
		).WithStep(step.Name).WithCode(ErrCodeUnknownStepType)
		return e.failStep(ctx, run, step, started, 0, err), true
	}

	profile := resolveRetryProfile(step, e.options)
	outcome, attempts, err := invokeWithRetry(ctx, run, step, handler, profile, e.sleep, run.logger)
	if err != nil {
		return e.failStep(ctx, run, step, started, attempts, err), true
	}

	changed := false
	if outcome != nil {
		changed = outcome.Changed
		if outcome.Output != nil {
			run.State[step.Output] = deepCopyMap(outcome.Output)
		}
	}

	result := StepResult{
		Status:               StepStatusCompleted,
		Changed:              changed,
		Attempts:             attempts,
		DurationMilliseconds: e.since(started),
	}
	run.events.Record(ctx, EventStepCompleted,
		fmt.Sprintf("Step %q completed", step.Name),
		step.Name, map[string]interface{}{
			"Changed":  changed,
			"Attempts": attempts,
		})
	return result, false
}

// failStep records a step failure with its redacted error.
func (e *Executor) failStep(ctx context.Context, run *ExecutionContext, step *PlanStep, started time.Time, attempts int, err error) StepResult {
	message := RedactErrorText(err.Error())
	result := StepResult{
		Status:               StepStatusFailed,
		Error:                message,
		Attempts:             attempts,
		DurationMilliseconds: e.since(started),
	}
	run.events.Record(ctx, EventStepFailed,
		fmt.Sprintf("Step %q failed", step.Name),
		step.Name, map[string]interface{}{
			"Error":    message,
			"Attempts": attempts,
		})
	run.logger.Error().
		Str("step", step.Name).
		Int("attempts", attempts).
		Str("error", message).
		Msg("Step failed")
	return result
}

func (e *Executor) since(started time.Time) int64 {
	elapsed := e.now().Sub(started)
	if elapsed < 0 {
		return 0
	}
	return elapsed.Milliseconds()
}
