package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a workflow execution.
type RunStatus string

const (
	// RunStatusCompleted indicates every primary step completed or was skipped.
	RunStatusCompleted RunStatus = "Completed"

	// RunStatusFailed indicates a primary step failed. The status stays
	// Failed even when every on-failure step succeeds.
	RunStatusFailed RunStatus = "Failed"

	// RunStatusWhatIf indicates the run was simulated: conditions were
	// evaluated but no provider was invoked and no state was changed.
	RunStatusWhatIf RunStatus = "WhatIf"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusWhatIf:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// StepStatus represents the terminal status of a single step.
type StepStatus string

const (
	// StepStatusCompleted indicates the step ran and succeeded.
	StepStatusCompleted StepStatus = "Completed"

	// StepStatusSkipped indicates the step's condition evaluated to false.
	// Skipped steps consume no capability, no session, and no retry budget.
	StepStatusSkipped StepStatus = "Skipped"

	// StepStatusFailed indicates the step exhausted its attempts or hit a
	// non-retryable error.
	StepStatusFailed StepStatus = "Failed"
)

// IsTerminal returns true for every valid step status; steps have no
// intermediate persisted states.
func (s StepStatus) IsTerminal() bool {
	return s.Validate() == nil
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusCompleted, StepStatusSkipped, StepStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}

// OnFailureStatus summarizes the remediation phase of a run.
type OnFailureStatus string

const (
	// OnFailureNotRun indicates the phase did not execute: either no primary
	// step failed or the workflow declares no on-failure steps.
	OnFailureNotRun OnFailureStatus = "NotRun"

	// OnFailureCompleted indicates every on-failure step completed or was
	// skipped.
	OnFailureCompleted OnFailureStatus = "Completed"

	// OnFailurePartiallyFailed indicates at least one on-failure step failed.
	// Remaining on-failure steps still run; the phase is best-effort.
	OnFailurePartiallyFailed OnFailureStatus = "PartiallyFailed"
)

// Validate checks if the on-failure status is valid.
func (s OnFailureStatus) Validate() error {
	switch s {
	case OnFailureNotRun, OnFailureCompleted, OnFailurePartiallyFailed:
		return nil
	default:
		return fmt.Errorf("invalid on-failure status: %s", s)
	}
}

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	// EventRunStarted is the first event of every run.
	EventRunStarted EventType = "RunStarted"

	// EventRunCompleted is the last event of every run, regardless of outcome.
	EventRunCompleted EventType = "RunCompleted"

	// EventStepStarted indicates a step began executing.
	EventStepStarted EventType = "StepStarted"

	// EventStepCompleted indicates a step finished successfully.
	EventStepCompleted EventType = "StepCompleted"

	// EventStepSkipped indicates a step's condition evaluated to false.
	EventStepSkipped EventType = "StepSkipped"

	// EventStepFailed indicates a step failed after exhausting its attempts.
	EventStepFailed EventType = "StepFailed"

	// EventCustom carries handler- or provider-defined signals.
	EventCustom EventType = "Custom"

	// EventDebug carries diagnostic detail such as retry delays.
	EventDebug EventType = "Debug"
)

// IsStepScoped returns true if the event type refers to a single step.
func (e EventType) IsStepScoped() bool {
	switch e {
	case EventStepStarted, EventStepCompleted, EventStepSkipped, EventStepFailed:
		return true
	default:
		return false
	}
}

// IsStepTerminal returns true if the event closes a step that previously
// emitted StepStarted, or records a skip.
func (e EventType) IsStepTerminal() bool {
	return e == EventStepCompleted || e == EventStepSkipped || e == EventStepFailed
}

// Severity returns the log severity for the event type.
func (e EventType) Severity() string {
	switch e {
	case EventStepFailed:
		return "error"
	case EventDebug:
		return "debug"
	default:
		return "info"
	}
}

// Validate checks if the event type is valid.
func (e EventType) Validate() error {
	switch e {
	case EventRunStarted, EventRunCompleted, EventStepStarted, EventStepCompleted,
		EventStepSkipped, EventStepFailed, EventCustom, EventDebug:
		return nil
	default:
		return fmt.Errorf("invalid event type: %s", e)
	}
}
