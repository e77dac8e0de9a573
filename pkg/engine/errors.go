package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass decides how a caller reacts to a failure: retry, back off, or
// give up.
type ErrorClass string

const (
	// ErrorClassTransient failures may succeed on retry, e.g. a dispatch
	// target that is briefly unreachable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled failures should be retried after backing off.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict marks lifecycle misuse, such as launching an
	// evaluator twice or reassigning a legacy process.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent failures never succeed unchanged, such as
	// conflicting configuration bindings.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes carried by EngineError.Code.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeConfigMerge      = "CONFIGURATION_MERGE"
	ErrCodeBadConfiguration = "BAD_CONFIGURATION"
	ErrCodeProviderFailed   = "PROVIDER_FAILED"
	ErrCodeAlreadyLaunched  = "ALREADY_LAUNCHED"
	ErrCodeProcessAssigned  = "PROCESS_ALREADY_ASSIGNED"
	ErrCodeSealed           = "RESOURCES_SEALED"
	ErrCodeClosed           = "EVALUATOR_CLOSED"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeDispatchFailed   = "DISPATCH_FAILED"
)

// EngineError is a classified error. Resource names the evaluator, provider
// or file involved; Operation names what was being done.
//
//nolint:revive // the name keeps it apart from the standard error values
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Err       error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error formats as "[class] message (resource=r, operation=o): cause".
// Operation is only shown together with a resource.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		b.WriteString(" (resource=" + e.Resource)
		if e.Operation != "" {
			b.WriteString(", operation=" + e.Operation)
		}
		b.WriteByte(')')
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError with the same class and code, so a
// template such as &EngineError{Class: ErrorClassConflict, Code:
// ErrCodeAlreadyLaunched} works with errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, message, err)
}

func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, message, err)
}

func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// The With* setters modify e in place and return it for chaining.

func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the outermost EngineError in err's chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

func hasClass(err error, class ErrorClass) bool {
	c, ok := ClassOf(err)
	return ok && c == class
}

func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }

func IsThrottled(err error) bool { return hasClass(err, ErrorClassThrottled) }

func IsConflict(err error) bool { return hasClass(err, ErrorClassConflict) }

func IsPermanent(err error) bool { return hasClass(err, ErrorClassPermanent) }

// IsRetryable reports whether err is transient or throttled. Conflicts are
// not retryable: they signal lifecycle misuse on the launch path.
func IsRetryable(err error) bool {
	c, _ := ClassOf(err)
	return c == ErrorClassTransient || c == ErrorClassThrottled
}

// HasCode reports whether any EngineError in err's chain carries code.
func HasCode(err error, code string) bool {
	var e *EngineError
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}
