package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a failure raised while evaluating payroll.
type ErrorClass string

const (
	// ErrorClassScript indicates a failure inside a regulation script.
	// The error carries the function type and the owning object name.
	ErrorClassScript ErrorClass = "script"

	// ErrorClassDomain indicates a violated business invariant
	// (unknown calendar, restart limit reached, period walk too long).
	ErrorClassDomain ErrorClass = "domain"

	// ErrorClassContract indicates an invalid argument passed by a caller,
	// for example a retro date inside the current period.
	ErrorClassContract ErrorClass = "contract"

	// ErrorClassInfrastructure indicates a failing collaborator such as a store or webhook.
	ErrorClassInfrastructure ErrorClass = "infrastructure"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// FunctionType is the script kind that failed, for script failures.
	FunctionType FunctionType `json:"functionType,omitempty"`

	// Object is the name of the regulation object owning the failed script.
	Object string `json:"object,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.FunctionType != "" && e.Object != "" {
		return fmt.Sprintf("[%s] %s (function=%s, object=%s): %s",
			e.Class, e.Message, e.FunctionType, e.Object, e.unwrapMessage())
	}
	if e.Object != "" {
		return fmt.Sprintf("[%s] %s (object=%s): %s",
			e.Class, e.Message, e.Object, e.unwrapMessage())
	}
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewScriptError creates a script failure for the given function type and owner.
func NewScriptError(functionType FunctionType, object string, err error) *EngineError {
	return &EngineError{
		Class:        ErrorClassScript,
		Message:      "script failed",
		Code:         ErrCodeScriptExecution,
		FunctionType: functionType,
		Object:       object,
		Err:          err,
	}
}

// NewDomainError creates a new domain error.
func NewDomainError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassDomain,
		Message: message,
		Err:     err,
	}
}

// NewContractError creates a new contract error.
func NewContractError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassContract,
		Message: message,
		Err:     err,
	}
}

// NewInfrastructureError creates a new infrastructure error.
func NewInfrastructureError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInfrastructure,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a domain error for a missing entity.
func NewNotFoundError(kind string, key interface{}) *EngineError {
	return NewDomainError(fmt.Sprintf("%s %v not found", kind, key), nil).
		WithCode(ErrCodeNotFound)
}

// WithObject adds the owning object name to an error.
func (e *EngineError) WithObject(object string) *EngineError {
	e.Object = object
	return e
}

// WithFunction adds the script kind to an error.
func (e *EngineError) WithFunction(functionType FunctionType) *EngineError {
	e.FunctionType = functionType
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsScriptFailure returns true if the error is classified as a script failure.
func IsScriptFailure(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassScript
}

// IsDomainViolation returns true if the error is classified as a domain error.
func IsDomainViolation(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassDomain
}

// IsContractViolation returns true if the error is classified as a contract error.
func IsContractViolation(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassContract
}

// IsInfrastructure returns true if the error is classified as an infrastructure error.
func IsInfrastructure(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassInfrastructure
}

// IsNotFound returns true if the error reports a missing entity.
func IsNotFound(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodeNotFound
}

// CodeOf returns the error code of a classified error, or an empty string.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeOutOfRange        = "OUT_OF_RANGE"
	ErrCodeAccessDenied      = "ACCESS_DENIED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRestartLimit      = "RESTART_LIMIT"
	ErrCodePeriodLimit       = "PERIOD_LIMIT"
	ErrCodeScriptCompile     = "SCRIPT_COMPILE"
	ErrCodeScriptExecution   = "SCRIPT_EXECUTION"
	ErrCodeScriptTimeout     = "SCRIPT_TIMEOUT"
	ErrCodeStore             = "STORE_FAILED"
	ErrCodeWebhook           = "WEBHOOK_FAILED"
)
