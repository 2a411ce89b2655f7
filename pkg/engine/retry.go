package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Sleeper waits for a delay or until the context ends. The executor's
// default waits on a timer; tests inject a recording fake.
type Sleeper func(ctx context.Context, delay time.Duration) error

// defaultSleeper is a cancellable, time-bounded wait.
func defaultSleeper(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveRetryProfile picks the effective profile for a step: the step's
// named profile, else the run default, else the builtin single attempt.
func resolveRetryProfile(step *PlanStep, options ExecutionOptions) RetryProfile {
	if step.RetryProfile != "" {
		if profile, ok := options.RetryProfiles[step.RetryProfile]; ok {
			return profile
		}
	}
	if options.DefaultRetryProfile != "" {
		if profile, ok := options.RetryProfiles[options.DefaultRetryProfile]; ok {
			return profile
		}
	}
	return NoRetryProfile()
}

// retryDelay computes the wait before the attempt following failedAttempts
// failures: min(MaxDelay, InitialDelay * BackoffFactor^(failedAttempts-1))
// adjusted by a uniform jitter of +/- JitterRatio of that delay.
func retryDelay(profile RetryProfile, failedAttempts int) time.Duration {
	base := float64(profile.InitialDelayMilliseconds)
	if profile.BackoffFactor > 0 && failedAttempts > 1 {
		base *= math.Pow(profile.BackoffFactor, float64(failedAttempts-1))
	}
	if profile.MaxDelayMilliseconds > 0 && base > float64(profile.MaxDelayMilliseconds) {
		base = float64(profile.MaxDelayMilliseconds)
	}
	if base <= 0 {
		return 0
	}
	delay := base * float64(time.Millisecond)
	if profile.JitterRatio > 0 {
		jitter := delay * profile.JitterRatio * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// invokeWithRetry runs the handler under the step's retry profile. Only
// transient failures are retried; the loop is bounded by MaxAttempts and
// every wait is cancellable. Returns the outcome, the number of attempts
// made, and the final error.
func invokeWithRetry(ctx context.Context, run *ExecutionContext, step *PlanStep, handler StepHandler, profile RetryProfile, sleep Sleeper, logger zerolog.Logger) (*StepOutcome, int, error) {
	maxAttempts := profile.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if sleep == nil {
		sleep = defaultSleeper
	}

	attempts := 0
	for {
		attempts++
		outcome, err := handler.Execute(ctx, run, step)
		if err == nil {
			return outcome, attempts, nil
		}
		if !IsTransient(err) || attempts >= maxAttempts {
			return nil, attempts, err
		}

		delay := retryDelay(profile, attempts)
		logger.Debug().
			Str("step", step.Name).
			Int("attempt", attempts).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("Transient step failure, retrying")
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, attempts, NewPermanentError("retry wait interrupted", sleepErr).
				WithStep(step.Name).WithCode(ErrCodeCancelled)
		}
	}
}
