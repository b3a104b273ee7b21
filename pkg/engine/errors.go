package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for reporting and
// recovery decisions.
type ErrorClass string

const (
	// ErrorClassPermanent indicates a request that cannot succeed as issued.
	// Examples: unknown attribute, validation failure, missing resource.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: adding a resource that already exists, lock timeouts.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassDenied indicates the request was rejected by policy.
	ErrorClassDenied ErrorClass = "denied"

	// ErrorClassProgramming indicates a handler broke the engine contract.
	// Examples: scheduling into an earlier phase, panics, out-of-scope access.
	ErrorClassProgramming ErrorClass = "programming"
)

// Error codes for programmatic handling.
const (
	ErrCodeUnknownOperation     = "UNKNOWN_OPERATION"
	ErrCodeUnknownAttribute     = "UNKNOWN_ATTRIBUTE"
	ErrCodeAttributeNotWritable = "ATTRIBUTE_NOT_WRITABLE"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeInvalidPhaseOrdering = "INVALID_PHASE_ORDERING"
	ErrCodeRollbackActionFailed = "ROLLBACK_ACTION_FAILED"
	ErrCodeResourceNotFound     = "RESOURCE_NOT_FOUND"
	ErrCodeDuplicateResource    = "DUPLICATE_RESOURCE"
	ErrCodePermissionDenied     = "PERMISSION_DENIED"
	ErrCodeOutOfLockScope       = "OUT_OF_LOCK_SCOPE"
	ErrCodeModelReadOnly        = "MODEL_READ_ONLY"
	ErrCodeLockTimeout          = "LOCK_TIMEOUT"
	ErrCodeHandlerPanic         = "HANDLER_PANIC"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Is compares class and code only, so any
// *EngineError built by the matching constructor satisfies errors.Is against
// these values regardless of message or context.
var (
	ErrUnknownOperation     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownOperation}
	ErrUnknownAttribute     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownAttribute}
	ErrAttributeNotWritable = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeAttributeNotWritable}
	ErrValidationFailed     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidationFailed}
	ErrInvalidPhaseOrdering = &EngineError{Class: ErrorClassProgramming, Code: ErrCodeInvalidPhaseOrdering}
	ErrRollbackActionFailed = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeRollbackActionFailed}
	ErrResourceNotFound     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeResourceNotFound}
	ErrDuplicateResource    = &EngineError{Class: ErrorClassConflict, Code: ErrCodeDuplicateResource}
	ErrPermissionDenied     = &EngineError{Class: ErrorClassDenied, Code: ErrCodePermissionDenied}
	ErrOutOfLockScope       = &EngineError{Class: ErrorClassProgramming, Code: ErrCodeOutOfLockScope}
	ErrModelReadOnly        = &EngineError{Class: ErrorClassProgramming, Code: ErrCodeModelReadOnly}
	ErrLockTimeout          = &EngineError{Class: ErrorClassConflict, Code: ErrCodeLockTimeout}
	ErrHandlerPanic         = &EngineError{Class: ErrorClassProgramming, Code: ErrCodeHandlerPanic}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the failure kind for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the address of the resource involved, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Code, msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Code, msg, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Description returns the failure description reported to clients: the
// message and underlying cause without the bracketed code and context.
func (e *EngineError) Description() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewUnknownOperationError reports that no handler is registered for name.
func NewUnknownOperationError(name, address string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeUnknownOperation,
		fmt.Sprintf("no handler for operation %q", name), nil).
		WithOperation(name).WithResource(address)
}

// NewUnknownAttributeError reports that the resource has no such attribute.
func NewUnknownAttributeError(attribute, address string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeUnknownAttribute,
		fmt.Sprintf("unknown attribute %q", attribute), nil).
		WithResource(address).WithDetail("attribute", attribute)
}

// NewAttributeNotWritableError reports a write to a read-only attribute.
func NewAttributeNotWritableError(attribute, address string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeAttributeNotWritable,
		fmt.Sprintf("attribute %q is not writable", attribute), nil).
		WithResource(address).WithDetail("attribute", attribute)
}

// NewValidationError reports a rejected value or parameter.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeValidationFailed, message, err)
}

// NewInvalidPhaseOrderingError reports a step scheduled into a phase earlier
// than the one currently executing.
func NewInvalidPhaseOrderingError(current, requested Phase) *EngineError {
	return newError(ErrorClassProgramming, ErrCodeInvalidPhaseOrdering,
		fmt.Sprintf("cannot add a %s step while executing %s", requested, current), nil).
		WithDetail("current_phase", current.String()).
		WithDetail("requested_phase", requested.String())
}

// NewRollbackActionError wraps a failure returned by a rollback action. It is
// logged and counted, never returned to the client.
func NewRollbackActionError(err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeRollbackActionFailed, "rollback action failed", err)
}

// NewResourceNotFoundError reports a missing resource.
func NewResourceNotFoundError(address string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeResourceNotFound, "resource not found", err).
		WithResource(address)
}

// NewDuplicateResourceError reports an add of an existing resource.
func NewDuplicateResourceError(address string, err error) *EngineError {
	return newError(ErrorClassConflict, ErrCodeDuplicateResource, "resource already exists", err).
		WithResource(address)
}

// NewPermissionDeniedError reports a policy rejection.
func NewPermissionDeniedError(message string, err error) *EngineError {
	return newError(ErrorClassDenied, ErrCodePermissionDenied, message, err)
}

// NewOutOfLockScopeError reports model access outside the locked subtree.
func NewOutOfLockScopeError(address, scope string) *EngineError {
	return newError(ErrorClassProgramming, ErrCodeOutOfLockScope,
		fmt.Sprintf("address is outside the locked subtree %s", scope), nil).
		WithResource(address)
}

// NewModelReadOnlyError reports a model write in a phase where the model is
// read-only.
func NewModelReadOnlyError(address string, phase Phase) *EngineError {
	return newError(ErrorClassProgramming, ErrCodeModelReadOnly,
		fmt.Sprintf("model is read-only during %s", phase), nil).
		WithResource(address).
		WithDetail("phase", phase.String())
}

// NewLockTimeoutError reports that the subtree lock could not be acquired.
func NewLockTimeoutError(address string, err error) *EngineError {
	return newError(ErrorClassConflict, ErrCodeLockTimeout, "timed out waiting for subtree lock", err).
		WithResource(address)
}

// NewHandlerPanicError converts a recovered panic into a failure.
func NewHandlerPanicError(recovered any) *EngineError {
	return newError(ErrorClassProgramming, ErrCodeHandlerPanic,
		fmt.Sprintf("handler panicked: %v", recovered), nil)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeInternal, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(address string) *EngineError {
	e.Resource = address
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
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

// clone returns a copy of e that can be decorated without touching e, which
// may be a shared sentinel.
func (e *EngineError) clone() *EngineError {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// AsEngineError returns err as an *EngineError. Errors of any other type are
// wrapped as internal errors; nil stays nil.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError("operation failed", err)
}

// CodeOf returns the error code of err, or "" if it carries none.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsDenied returns true if the error is a policy rejection.
func IsDenied(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDenied
	}
	return false
}

// IsProgramming returns true if the error reports a broken handler contract.
func IsProgramming(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassProgramming
	}
	return false
}
