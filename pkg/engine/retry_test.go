package engine

import (
	"context"
	"testing"
	"time"
)

func TestRetryDelay_ExponentialBackoff(t *testing.T) {
	profile := RetryProfile{
		MaxAttempts:              4,
		InitialDelayMilliseconds: 200,
		BackoffFactor:            2.0,
	}

	if delay := retryDelay(profile, 1); delay != 200*time.Millisecond {
		t.Errorf("Expected 200ms after the first failure, got %s", delay)
	}
	if delay := retryDelay(profile, 2); delay != 400*time.Millisecond {
		t.Errorf("Expected 400ms after the second failure, got %s", delay)
	}
	if delay := retryDelay(profile, 3); delay != 800*time.Millisecond {
		t.Errorf("Expected 800ms after the third failure, got %s", delay)
	}
}

func TestRetryDelay_CapsAtMaxDelay(t *testing.T) {
	profile := RetryProfile{
		MaxAttempts:              5,
		InitialDelayMilliseconds: 200,
		BackoffFactor:            2.0,
		MaxDelayMilliseconds:     500,
	}

	if delay := retryDelay(profile, 3); delay != 500*time.Millisecond {
		t.Errorf("Expected the cap at 500ms, got %s", delay)
	}
}

func TestRetryDelay_JitterStaysWithinBounds(t *testing.T) {
	profile := RetryProfile{
		MaxAttempts:              3,
		InitialDelayMilliseconds: 200,
		BackoffFactor:            2.0,
		JitterRatio:              0.5,
	}

	low := 100 * time.Millisecond
	high := 300 * time.Millisecond
	for i := 0; i < 200; i++ {
		delay := retryDelay(profile, 1)
		if delay < low || delay > high {
			t.Fatalf("Expected delay within [%s, %s], got %s", low, high, delay)
		}
	}
}

func TestRetryDelay_NeverNegative(t *testing.T) {
	profile := RetryProfile{
		MaxAttempts:              3,
		InitialDelayMilliseconds: 10,
		BackoffFactor:            1.0,
		JitterRatio:              1.0,
	}

	for i := 0; i < 200; i++ {
		if delay := retryDelay(profile, 1); delay < 0 {
			t.Fatalf("Expected non-negative delay, got %s", delay)
		}
	}
}

func TestRetryDelay_ZeroInitialDelay(t *testing.T) {
	profile := RetryProfile{MaxAttempts: 3}

	if delay := retryDelay(profile, 1); delay != 0 {
		t.Errorf("Expected no wait without an initial delay, got %s", delay)
	}
}

func TestResolveRetryProfile_StepProfileWins(t *testing.T) {
	options := ExecutionOptions{
		RetryProfiles: map[string]RetryProfile{
			"aggressive": {MaxAttempts: 5, InitialDelayMilliseconds: 50, BackoffFactor: 2.0},
			"standard":   {MaxAttempts: 2, InitialDelayMilliseconds: 100, BackoffFactor: 1.5},
		},
		DefaultRetryProfile: "standard",
	}
	step := &PlanStep{Name: "set-title", RetryProfile: "aggressive"}

	profile := resolveRetryProfile(step, options)

	if profile.MaxAttempts != 5 {
		t.Errorf("Expected the step's named profile, got %+v", profile)
	}
}

func TestResolveRetryProfile_FallsBackToDefault(t *testing.T) {
	options := ExecutionOptions{
		RetryProfiles: map[string]RetryProfile{
			"standard": {MaxAttempts: 2, InitialDelayMilliseconds: 100, BackoffFactor: 1.5},
		},
		DefaultRetryProfile: "standard",
	}
	step := &PlanStep{Name: "set-title"}

	profile := resolveRetryProfile(step, options)

	if profile.MaxAttempts != 2 {
		t.Errorf("Expected the default profile, got %+v", profile)
	}
}

func TestResolveRetryProfile_BuiltinSingleAttempt(t *testing.T) {
	step := &PlanStep{Name: "set-title"}

	profile := resolveRetryProfile(step, ExecutionOptions{})

	if profile.MaxAttempts != 1 {
		t.Errorf("Expected the builtin single-attempt profile, got %+v", profile)
	}
}

func TestInvokeWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	handler := HandlerFunc(func(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
		calls++
		return nil, NewPermanentError("directory rejected the write", nil)
	})
	profile := RetryProfile{MaxAttempts: 3, InitialDelayMilliseconds: 1, BackoffFactor: 2.0}
	waits := 0
	sleep := func(ctx context.Context, delay time.Duration) error {
		waits++
		return nil
	}

	_, attempts, err := invokeWithRetry(context.Background(), &ExecutionContext{}, &PlanStep{Name: "set-title"}, handler, profile, sleep, testLogger())

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("Expected a single attempt, got attempts=%d calls=%d", attempts, calls)
	}
	if waits != 0 {
		t.Errorf("Expected no waits, got %d", waits)
	}
}

func TestInvokeWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	handler := HandlerFunc(func(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
		calls++
		return nil, NewTransientError("directory timeout", nil)
	})
	profile := RetryProfile{MaxAttempts: 3, InitialDelayMilliseconds: 1, BackoffFactor: 2.0}
	waits := 0
	sleep := func(ctx context.Context, delay time.Duration) error {
		waits++
		return nil
	}

	_, attempts, err := invokeWithRetry(context.Background(), &ExecutionContext{}, &PlanStep{Name: "set-title"}, handler, profile, sleep, testLogger())

	if err == nil {
		t.Fatal("Expected error after exhausting attempts, got nil")
	}
	if !IsTransient(err) {
		t.Errorf("Expected the transient error to surface, got: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("Expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
	if waits != 2 {
		t.Errorf("Expected 2 waits between 3 attempts, got %d", waits)
	}
}

func TestInvokeWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	handler := HandlerFunc(func(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
		calls++
		if calls == 1 {
			return nil, NewTransientError("directory timeout", nil)
		}
		return &StepOutcome{Changed: true}, nil
	})
	profile := RetryProfile{MaxAttempts: 3, InitialDelayMilliseconds: 1, BackoffFactor: 2.0}
	sleep := func(ctx context.Context, delay time.Duration) error { return nil }

	outcome, attempts, err := invokeWithRetry(context.Background(), &ExecutionContext{}, &PlanStep{Name: "set-title"}, handler, profile, sleep, testLogger())

	if err != nil {
		t.Fatalf("Expected recovery, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if outcome == nil || !outcome.Changed {
		t.Errorf("Expected the successful outcome, got %+v", outcome)
	}
}

func TestInvokeWithRetry_InterruptedWait(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, run *ExecutionContext, step *PlanStep) (*StepOutcome, error) {
		return nil, NewTransientError("directory timeout", nil)
	})
	profile := RetryProfile{MaxAttempts: 3, InitialDelayMilliseconds: 1, BackoffFactor: 2.0}
	sleep := func(ctx context.Context, delay time.Duration) error {
		return context.Canceled
	}

	_, attempts, err := invokeWithRetry(context.Background(), &ExecutionContext{}, &PlanStep{Name: "set-title"}, handler, profile, sleep, testLogger())

	if err == nil {
		t.Fatal("Expected error for interrupted wait, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected the interruption after the first attempt, got %d", attempts)
	}
}

func TestDefaultSleeper_ZeroDelayReturnsImmediately(t *testing.T) {
	if err := defaultSleeper(context.Background(), 0); err != nil {
		t.Errorf("Expected no error for zero delay, got: %v", err)
	}
}

func TestDefaultSleeper_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := defaultSleeper(ctx, 10*time.Second)

	if err == nil {
		t.Fatal("Expected context error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected an immediate return, waited %s", elapsed)
	}
}
