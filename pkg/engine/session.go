package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/idlecore/idle/pkg/workflow"
)

// SessionBroker resolves named, option-keyed authentication requests to
// opaque sessions. The host supplies one per execution context; the engine
// forwards options and hands the returned session to providers unchanged.
type SessionBroker interface {
	AcquireAuthSession(ctx context.Context, name string, options map[string]interface{}) (AuthSession, error)
}

// SessionBrokerFunc adapts a function to the SessionBroker interface.
type SessionBrokerFunc func(ctx context.Context, name string, options map[string]interface{}) (AuthSession, error)

// AcquireAuthSession implements SessionBroker.
func (f SessionBrokerFunc) AcquireAuthSession(ctx context.Context, name string, options map[string]interface{}) (AuthSession, error) {
	return f(ctx, name, options)
}

// AcquireAuthSession resolves a named session through the run's broker.
// Options default to an empty map, pass the executable-content guard, and
// are enriched with the run's CorrelationId and Actor unless the caller set
// them. The returned session is opaque and never logged.
func (run *ExecutionContext) AcquireAuthSession(ctx context.Context, name string, options map[string]interface{}) (AuthSession, error) {
	if name == "" {
		return nil, NewValidationError("auth session name is empty", nil).WithCode(ErrCodeSessionBroker)
	}
	if run.Broker == nil {
		return nil, NewPermanentError(
			fmt.Sprintf("step requires auth session %q but no session broker is wired; supply one on the execution context", name), nil,
		).WithCode(ErrCodeSessionBroker)
	}
	if err := workflow.AssertNoExecutableContent(options, "AuthSessionOptions"); err != nil {
		return nil, NewSecurityError("auth session options contain executable content", err)
	}

	enriched := deepCopyMap(options)
	if enriched == nil {
		enriched = map[string]interface{}{}
	}
	if run.Request != nil {
		if _, ok := enriched["CorrelationId"]; !ok && run.Request.CorrelationId != "" {
			enriched["CorrelationId"] = run.Request.CorrelationId
		}
		if _, ok := enriched["Actor"]; !ok && run.Request.Actor != "" {
			enriched["Actor"] = run.Request.Actor
		}
	}

	session, err := run.Broker.AcquireAuthSession(ctx, name, enriched)
	if err != nil {
		return nil, NewPermanentError(
			fmt.Sprintf("session broker failed to acquire session %q", name), err,
		).WithCode(ErrCodeSessionBroker)
	}
	return session, nil
}

// acquireStepSession resolves the session a step declares through
// With.AuthSessionName. Steps declaring none run without a session.
func acquireStepSession(ctx context.Context, run *ExecutionContext, step *PlanStep) (AuthSession, error) {
	name, ok := stringOption(step, WithKeyAuthSessionName)
	if !ok || name == "" {
		return nil, nil
	}
	options, _ := step.With[WithKeyAuthSessionOptions].(map[string]interface{})
	session, err := run.AcquireAuthSession(ctx, name, options)
	if err != nil {
		var classified *Error
		if errors.As(err, &classified) && classified.Step == "" {
			classified.Step = step.Name
		}
		return nil, err
	}
	return session, nil
}
