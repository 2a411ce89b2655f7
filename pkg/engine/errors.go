package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of an error for retry and
// reporting logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed or inconsistent input.
	// Examples: unknown workflow keys, unresolved template paths.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassSecurity indicates executable content was found where only
	// data is allowed. Security errors are never retried.
	ErrorClassSecurity ErrorClass = "security"

	// ErrorClassCapability indicates a provider does not advertise a
	// capability required by the plan.
	ErrorClassCapability ErrorClass = "capability"

	// ErrorClassTransient indicates a temporary provider failure that may
	// succeed on retry. Examples: network timeouts, throttling.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: missing provider, unsupported operation, business rejection.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error represents a classified engine error with context.
type Error struct {
	// Class is the error classification for retry and reporting logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the plan step the error belongs to, if applicable.
	Step string `json:"step,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Step != "" {
		fmt.Fprintf(&b, " (step=%s", e.Step)
		if e.Operation != "" {
			fmt.Fprintf(&b, ", operation=%s", e.Operation)
		}
		b.WriteString(")")
	} else if e.Operation != "" {
		fmt.Fprintf(&b, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewSecurityError creates a new security error.
func NewSecurityError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassSecurity,
		Message: message,
		Code:    ErrCodeSecurity,
		Err:     err,
	}
}

// NewTransientError creates a new transient error. Providers use this to
// mark faults that the engine may retry.
func NewTransientError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithStep adds step context to an error.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true if the error is classified as a validation error.
// Security errors count as validation failures: both reject the input before
// any provider is contacted.
func IsValidation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation || e.Class == ErrorClassSecurity
	}
	return false
}

// IsSecurity returns true if the error is classified as a security error.
func IsSecurity(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassSecurity
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only transient errors are retryable; everything else fails immediately.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// CapabilityFinding records a single missing capability discovered during
// plan building.
type CapabilityFinding struct {
	// Step is the name of the step that requires the capability.
	Step string `json:"step"`

	// Provider is the alias of the provider that was checked.
	Provider string `json:"provider"`

	// Capability is the dot-segmented capability that is missing.
	Capability string `json:"capability"`
}

// CapabilityError aggregates every missing capability across a plan.
// Plan building checks all steps before failing so that one build surfaces
// the complete set of findings.
type CapabilityError struct {
	// Findings lists each missing capability with its step and provider.
	Findings []CapabilityFinding `json:"findings"`
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan requires %d missing capabilit", len(e.Findings))
	if len(e.Findings) == 1 {
		b.WriteString("y")
	} else {
		b.WriteString("ies")
	}
	for _, f := range e.Findings {
		fmt.Fprintf(&b, "; step %q needs %s (provider %q)", f.Step, f.Capability, f.Provider)
	}
	return b.String()
}

// Sort orders findings by step, then capability, for stable output.
func (e *CapabilityError) Sort() {
	sort.Slice(e.Findings, func(i, j int) bool {
		if e.Findings[i].Step != e.Findings[j].Step {
			return e.Findings[i].Step < e.Findings[j].Step
		}
		return e.Findings[i].Capability < e.Findings[j].Capability
	})
}

// IsCapability returns true if the error is a capability aggregate.
func IsCapability(err error) bool {
	var e *CapabilityError
	return errors.As(err, &e)
}

// OnFailureStepError wraps the failure of a remediation step. It is recorded
// in results and events but never fails the run: the OnFailure phase is
// best-effort and the primary failure already determined the run status.
type OnFailureStepError struct {
	// Step is the name of the remediation step that failed.
	Step string `json:"step"`

	// Err is the underlying failure.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *OnFailureStepError) Error() string {
	return fmt.Sprintf("on-failure step %q failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OnFailureStepError) Unwrap() error {
	return e.Err
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeSecurity        = "EXECUTABLE_CONTENT"
	ErrCodeCapability      = "MISSING_CAPABILITY"
	ErrCodeTemplate        = "TEMPLATE_ERROR"
	ErrCodeCondition       = "CONDITION_ERROR"
	ErrCodeUnknownStepType = "UNKNOWN_STEP_TYPE"
	ErrCodeProviderMissing = "PROVIDER_MISSING"
	ErrCodeProviderFailed  = "PROVIDER_FAILED"
	ErrCodeSessionBroker   = "SESSION_BROKER"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
