package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the persisted status of an execution run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusWhatIf    RunStatus = "what-if"
)

// Run represents a recorded workflow execution. The plan snapshot is taken
// before the first step runs so the record survives even when the process
// dies mid-run.
type Run struct {
	ID             string     `json:"id"`
	WorkflowName   string     `json:"workflow_name"`
	LifecycleEvent string     `json:"lifecycle_event"`
	CorrelationID  string     `json:"correlation_id"`
	Status         RunStatus  `json:"status"`
	WhatIf         bool       `json:"what_if"`
	Plan           string     `json:"plan"`             // JSON snapshot of the executed plan
	Result         *string    `json:"result,omitempty"` // JSON execution result, set on completion
	Error          *string    `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Event represents one persisted entry of a run timeline. Sequence preserves
// the emission order within a run independent of timestamp resolution.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Sequence  int       `json:"sequence"`
	Type      string    `json:"type"` // e.g., "RunStarted", "StepCompleted"
	Step      *string   `json:"step,omitempty"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry represents an audit trail entry for operator-facing actions.
type AuditEntry struct {
	ID            int64     `json:"id"`
	Action        string    `json:"action"` // e.g., "run.started", "run.completed", "plan.exported"
	Actor         string    `json:"actor"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Details       *string   `json:"details,omitempty"` // JSON blob
	Timestamp     time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, result *string, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListRunsByCorrelation(ctx context.Context, correlationID string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, eventType *string, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
