package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/idlecore/idle/pkg/engine"
)

// StoreSink persists run events into the events table as they are emitted.
// It implements engine.EventSink; the executor tolerates sink failures, so a
// storage hiccup never fails the run it records.
type StoreSink struct {
	store Store
	runID string
}

// NewStoreSink returns a sink appending events under the given run id. The
// run record must exist before the first event arrives.
func NewStoreSink(store Store, runID string) *StoreSink {
	return &StoreSink{store: store, runID: runID}
}

// WriteEvent implements engine.EventSink.
func (s *StoreSink) WriteEvent(ctx context.Context, event engine.Event) error {
	var step *string
	if event.StepName != "" {
		step = &event.StepName
	}

	var details *string
	if len(event.Data) > 0 {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		encoded := string(data)
		details = &encoded
	}

	return s.store.AppendEvent(ctx, &Event{
		RunID:     s.runID,
		Sequence:  event.Sequence,
		Type:      string(event.Type),
		Step:      step,
		Message:   event.Message,
		Details:   details,
		Timestamp: event.TimestampUtc,
	})
}

var _ engine.EventSink = (*StoreSink)(nil)

// NewRun builds a run record from a plan about to execute. The record is
// created with status running; CompleteRun or RecordResult finishes it.
func NewRun(id string, plan *engine.Plan, whatIf bool) (*Run, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}

	now := time.Now()
	return &Run{
		ID:             id,
		WorkflowName:   plan.WorkflowName,
		LifecycleEvent: plan.LifecycleEvent,
		CorrelationID:  plan.CorrelationId,
		Status:         RunStatusRunning,
		WhatIf:         whatIf,
		Plan:           string(data),
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// RecordResult finishes a run record with the execution outcome. The runErr
// is the error returned by the executor, if any; the result itself is always
// persisted, partial outcomes included.
func (s *SQLiteStore) RecordResult(ctx context.Context, id string, result *engine.ExecutionResult, runErr error) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	encoded := string(data)

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	return s.CompleteRun(ctx, id, RunStatusFromEngine(result.Status), &encoded, errMsg)
}

// RunStatusFromEngine maps an engine run status onto the persisted
// vocabulary.
func RunStatusFromEngine(status engine.RunStatus) RunStatus {
	switch status {
	case engine.RunStatusCompleted:
		return RunStatusCompleted
	case engine.RunStatusWhatIf:
		return RunStatusWhatIf
	default:
		return RunStatusFailed
	}
}
