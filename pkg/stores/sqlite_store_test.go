package stores

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/idlecore/idle/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// testRun returns a run record ready to insert
func testRun(id string) *Run {
	now := time.Now()
	return &Run{
		ID:             id,
		WorkflowName:   "joiner-standard",
		LifecycleEvent: "Joiner",
		CorrelationID:  "corr-" + id,
		Status:         RunStatusRunning,
		WhatIf:         false,
		Plan:           `{"WorkflowName":"joiner-standard"}`,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "events", "audit"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRunCRUD tests Run operations through a full lifecycle
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Create
	run := testRun("run-001")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	// Read
	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if retrieved.ID != run.ID {
		t.Errorf("expected ID %s, got %s", run.ID, retrieved.ID)
	}
	if retrieved.WorkflowName != run.WorkflowName {
		t.Errorf("expected WorkflowName %s, got %s", run.WorkflowName, retrieved.WorkflowName)
	}
	if retrieved.LifecycleEvent != run.LifecycleEvent {
		t.Errorf("expected LifecycleEvent %s, got %s", run.LifecycleEvent, retrieved.LifecycleEvent)
	}
	if retrieved.Status != RunStatusRunning {
		t.Errorf("expected Status %s, got %s", RunStatusRunning, retrieved.Status)
	}
	if retrieved.CompletedAt != nil {
		t.Error("expected CompletedAt to be unset for a running run")
	}

	// Complete
	result := `{"Status":"Failed"}`
	errMsg := "step create-account failed"
	if err := store.CompleteRun(ctx, run.ID, RunStatusFailed, &result, &errMsg); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	completed, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get completed run: %v", err)
	}

	if completed.Status != RunStatusFailed {
		t.Errorf("expected Status %s, got %s", RunStatusFailed, completed.Status)
	}
	if completed.Error == nil || *completed.Error != errMsg {
		t.Errorf("expected Error %s, got %v", errMsg, completed.Error)
	}
	if completed.Result == nil || *completed.Result != result {
		t.Errorf("expected Result %s, got %v", result, completed.Result)
	}
	if completed.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	// List
	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	// Delete
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	_, err = store.GetRun(ctx, run.ID)
	if err == nil {
		t.Error("expected error when getting deleted run")
	}
}

// TestCompleteRun_NotFound tests completing a run that does not exist
func TestCompleteRun_NotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	err := store.CompleteRun(context.Background(), "run-ghost", RunStatusCompleted, nil, nil)
	if err == nil {
		t.Error("expected error when completing unknown run")
	}
}

// TestListRunsByCorrelation tests filtering runs by correlation id
func TestListRunsByCorrelation(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b"} {
		run := testRun(id)
		run.CorrelationID = "corr-shared"
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	other := testRun("run-c")
	if err := store.CreateRun(ctx, other); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	runs, err := store.ListRunsByCorrelation(ctx, "corr-shared", 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs by correlation: %v", err)
	}

	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
	for _, run := range runs {
		if run.CorrelationID != "corr-shared" {
			t.Errorf("expected correlation corr-shared, got %s", run.CorrelationID)
		}
	}
}

// TestEventOperations tests Event operations
func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// Create a run first (required for foreign key)
	run := testRun("run-003")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	// Append events
	step := "create-account"
	events := []*Event{
		{
			RunID:     run.ID,
			Sequence:  0,
			Type:      "RunStarted",
			Message:   "Run started",
			Timestamp: now,
		},
		{
			RunID:     run.ID,
			Sequence:  1,
			Type:      "StepStarted",
			Step:      &step,
			Message:   "Step started",
			Timestamp: now.Add(1 * time.Second),
		},
		{
			RunID:     run.ID,
			Sequence:  2,
			Type:      "StepFailed",
			Step:      &step,
			Message:   "Step failed",
			Timestamp: now.Add(2 * time.Second),
		},
	}

	for _, event := range events {
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if event.ID == 0 {
			t.Error("expected event ID to be set after insert")
		}
	}

	// Get all events for run, in sequence order
	retrieved, err := store.GetEvents(ctx, &run.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}

	if len(retrieved) != 3 {
		t.Fatalf("expected 3 events, got %d", len(retrieved))
	}
	for i, event := range retrieved {
		if event.Sequence != i {
			t.Errorf("expected sequence %d at position %d, got %d", i, i, event.Sequence)
		}
	}

	// Filter by type
	failedType := "StepFailed"
	filtered, err := store.GetEvents(ctx, nil, &failedType, 10, 0)
	if err != nil {
		t.Fatalf("failed to get filtered events: %v", err)
	}

	if len(filtered) != 1 {
		t.Fatalf("expected 1 StepFailed event, got %d", len(filtered))
	}
	if filtered[0].Step == nil || *filtered[0].Step != step {
		t.Errorf("expected step %s, got %v", step, filtered[0].Step)
	}
}

// TestAuditOperations tests Audit operations
func TestAuditOperations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	correlation := "corr-joiner-001"
	entries := []*AuditEntry{
		{
			Action:        "run.started",
			Actor:         "hr-feed",
			CorrelationID: &correlation,
			Timestamp:     now,
		},
		{
			Action:    "plan.exported",
			Actor:     "cli",
			Timestamp: now.Add(1 * time.Second),
		},
		{
			Action:        "run.started",
			Actor:         "cli",
			CorrelationID: &correlation,
			Timestamp:     now.Add(2 * time.Second),
		},
	}

	for _, entry := range entries {
		if err := store.CreateAuditEntry(ctx, entry); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected audit entry ID to be set after insert")
		}
	}

	// List all
	retrieved, err := store.ListAuditEntries(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}

	if len(retrieved) != 3 {
		t.Errorf("expected 3 audit entries, got %d", len(retrieved))
	}

	// Filter by action
	action := "run.started"
	filtered, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list filtered audit entries: %v", err)
	}

	if len(filtered) != 2 {
		t.Errorf("expected 2 run.started entries, got %d", len(filtered))
	}

	// Filter by actor
	actor := "hr-feed"
	actorFiltered, err := store.ListAuditEntries(ctx, nil, &actor, 10, 0)
	if err != nil {
		t.Fatalf("failed to list actor filtered audit entries: %v", err)
	}

	if len(actorFiltered) != 1 {
		t.Errorf("expected 1 hr-feed entry, got %d", len(actorFiltered))
	}
}

// TestTransactions tests transaction support
func TestTransactions(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// Begin transaction
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	run := testRun("run-tx-001")

	query := `
		INSERT INTO runs (id, workflow_name, lifecycle_event, correlation_id, status, what_if, plan, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query, run.ID, run.WorkflowName, run.LifecycleEvent, run.CorrelationID, run.Status, run.WhatIf, run.Plan, now, now, now)
	if err != nil {
		store.RollbackTx(tx)
		t.Fatalf("failed to insert run in transaction: %v", err)
	}

	// Rollback
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback transaction: %v", err)
	}

	// Verify run was not created
	_, err = store.GetRun(ctx, run.ID)
	if err == nil {
		t.Error("expected error when getting rolled back run")
	}

	// Begin new transaction and commit
	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin second transaction: %v", err)
	}

	_, err = tx.ExecContext(ctx, query, run.ID, run.WorkflowName, run.LifecycleEvent, run.CorrelationID, run.Status, run.WhatIf, run.Plan, now, now, now)
	if err != nil {
		store.RollbackTx(tx)
		t.Fatalf("failed to insert run in second transaction: %v", err)
	}

	if err := store.CommitTx(tx); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}

	// Verify run was created
	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get committed run: %v", err)
	}

	if retrieved.ID != run.ID {
		t.Errorf("expected ID %s, got %s", run.ID, retrieved.ID)
	}
}

// TestCascadeDelete tests foreign key cascading from runs to events
func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	run := testRun("run-cascade-001")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	event := &Event{
		RunID:     run.ID,
		Sequence:  0,
		Type:      "RunStarted",
		Message:   "Run started",
		Timestamp: now,
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	// Delete run (should cascade to events)
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	events, err := store.GetEvents(ctx, &run.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events after cascade delete, got %d", len(events))
	}
}

// TestNewRun tests building a run record from a plan
func TestNewRun(t *testing.T) {
	plan := &engine.Plan{
		WorkflowName:   "joiner-standard",
		LifecycleEvent: "Joiner",
		CorrelationId:  "corr-joiner-001",
		BuiltAtUtc:     time.Now().UTC(),
		Steps: []engine.PlanStep{
			{
				Name:          "create-account",
				Type:          "IdLE.Step.CreateIdentity",
				ProviderAlias: "directory",
				Output:        "create-account",
			},
		},
	}

	run, err := NewRun("run-010", plan, true)
	if err != nil {
		t.Fatalf("failed to build run record: %v", err)
	}

	if run.ID != "run-010" {
		t.Errorf("expected ID run-010, got %s", run.ID)
	}
	if run.WorkflowName != "joiner-standard" {
		t.Errorf("expected WorkflowName joiner-standard, got %s", run.WorkflowName)
	}
	if run.CorrelationID != "corr-joiner-001" {
		t.Errorf("expected CorrelationID corr-joiner-001, got %s", run.CorrelationID)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("expected Status %s, got %s", RunStatusRunning, run.Status)
	}
	if !run.WhatIf {
		t.Error("expected WhatIf to be set")
	}
	if !strings.Contains(run.Plan, "create-account") {
		t.Errorf("expected plan JSON to contain the step, got %s", run.Plan)
	}

	_, err = NewRun("run-011", nil, false)
	if err == nil {
		t.Error("expected error for nil plan")
	}
}

// TestStoreSink tests the engine.EventSink adapter
func TestStoreSink(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	run := testRun("run-sink-001")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	sink := NewStoreSink(store, run.ID)

	err := sink.WriteEvent(ctx, engine.Event{
		Sequence:     0,
		Type:         engine.EventRunStarted,
		Message:      "run started",
		Data:         map[string]interface{}{"Workflow": "joiner-standard"},
		TimestampUtc: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to write run event: %v", err)
	}

	err = sink.WriteEvent(ctx, engine.Event{
		Sequence:     1,
		Type:         engine.EventStepCompleted,
		Message:      "step completed",
		StepName:     "create-account",
		TimestampUtc: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to write step event: %v", err)
	}

	events, err := store.GetEvents(ctx, &run.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if events[0].Type != "RunStarted" {
		t.Errorf("expected type RunStarted, got %s", events[0].Type)
	}
	if events[0].Step != nil {
		t.Errorf("expected no step on run event, got %v", *events[0].Step)
	}
	if events[0].Details == nil || !strings.Contains(*events[0].Details, "joiner-standard") {
		t.Errorf("expected details to carry event data, got %v", events[0].Details)
	}

	if events[1].Step == nil || *events[1].Step != "create-account" {
		t.Errorf("expected step create-account, got %v", events[1].Step)
	}
	if events[1].Details != nil {
		t.Errorf("expected no details for data-free event, got %v", *events[1].Details)
	}
}

// TestRecordResult tests finishing a run from an execution result
func TestRecordResult(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	run := testRun("run-result-001")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	result := &engine.ExecutionResult{
		Status:         engine.RunStatusCompleted,
		WorkflowName:   "joiner-standard",
		LifecycleEvent: "Joiner",
		CorrelationId:  run.CorrelationID,
		Steps:          map[string]engine.StepResult{},
		StartedAtUtc:   time.Now().UTC(),
		CompletedAtUtc: time.Now().UTC(),
	}

	if err := store.RecordResult(ctx, run.ID, result, nil); err != nil {
		t.Fatalf("failed to record result: %v", err)
	}

	recorded, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if recorded.Status != RunStatusCompleted {
		t.Errorf("expected status %s, got %s", RunStatusCompleted, recorded.Status)
	}
	if recorded.Result == nil || !strings.Contains(*recorded.Result, "joiner-standard") {
		t.Errorf("expected result JSON, got %v", recorded.Result)
	}
	if recorded.Error != nil {
		t.Errorf("expected no error, got %v", *recorded.Error)
	}
	if recorded.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

// TestRunStatusFromEngine tests the status mapping
func TestRunStatusFromEngine(t *testing.T) {
	tests := []struct {
		in   engine.RunStatus
		want RunStatus
	}{
		{engine.RunStatusCompleted, RunStatusCompleted},
		{engine.RunStatusFailed, RunStatusFailed},
		{engine.RunStatusWhatIf, RunStatusWhatIf},
	}

	for _, tt := range tests {
		if got := RunStatusFromEngine(tt.in); got != tt.want {
			t.Errorf("RunStatusFromEngine(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestMain sets up and tears down test environment
func TestMain(m *testing.M) {
	// Run tests
	code := m.Run()

	// Exit
	os.Exit(code)
}
