package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrInternal          = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeTransition ErrorType = "invalid_transition"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeUpstream   ErrorType = "upstream"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
)

// CoordinationError is a structured error for coordination operations
type CoordinationError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "accept_assignment", "enqueue_ticket")
	Resource   string // Resource ID the operation targeted, if any
	Err        error  // Underlying error
	StatusCode int    // Upstream HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *CoordinationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *CoordinationError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrForbidden:
		return e.Type == ErrorTypeForbidden
	case ErrInvalidTransition:
		return e.Type == ErrorTypeTransition
	case ErrConflict:
		return e.Type == ErrorTypeConflict
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrUpstreamTimeout:
		return e.Type == ErrorTypeTimeout
	}

	return errors.Is(e.Err, target)
}

// New creates a new CoordinationError
func New(errorType ErrorType, op, resource string, err error) *CoordinationError {
	return &CoordinationError{
		Type:      errorType,
		Op:        op,
		Resource:  resource,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithStatusCode adds an upstream HTTP status code to the error
func (e *CoordinationError) WithStatusCode(code int) *CoordinationError {
	e.StatusCode = code
	// Update retryable based on status code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// HTTPStatus maps the error category onto the public API surface.
func (e *CoordinationError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeAuth:
		return 401
	case ErrorTypeForbidden:
		return 403
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeTransition, ErrorTypeConflict:
		return 409
	case ErrorTypeTimeout:
		return 504
	default:
		return 500
	}
}

// isRetryable determines if an error should be retried
func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeUpstream, ErrorTypeTimeout:
		return true
	case ErrorTypeAuth, ErrorTypeForbidden, ErrorTypeValidation,
		ErrorTypeNotFound, ErrorTypeTransition, ErrorTypeConflict:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrForbidden)
		}
		return true
	}
}

// Helper constructors used throughout the service.

func Validation(op, resource string, err error) error {
	return New(ErrorTypeValidation, op, resource, err)
}

func NotFound(op, resource string) error {
	return New(ErrorTypeNotFound, op, resource, ErrNotFound)
}

func Forbidden(op, resource string, err error) error {
	if err == nil {
		err = ErrForbidden
	}
	return New(ErrorTypeForbidden, op, resource, err)
}

func Transition(op, resource string, err error) error {
	if err == nil {
		err = ErrInvalidTransition
	}
	return New(ErrorTypeTransition, op, resource, err)
}

func Conflict(op, resource string, err error) error {
	if err == nil {
		err = ErrConflict
	}
	return New(ErrorTypeConflict, op, resource, err)
}

func Upstream(op, resource string, err error, statusCode int) error {
	return New(ErrorTypeUpstream, op, resource, err).WithStatusCode(statusCode)
}

func UpstreamTimeout(op, resource string, err error) error {
	if err == nil {
		err = ErrUpstreamTimeout
	}
	return New(ErrorTypeTimeout, op, resource, err)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var coordErr *CoordinationError
	if errors.As(err, &coordErr) {
		return coordErr.Retryable
	}

	return errors.Is(err, ErrUpstreamTimeout)
}

// HTTPStatusFor resolves the response status for any error value.
func HTTPStatusFor(err error) int {
	var coordErr *CoordinationError
	if errors.As(err, &coordErr) {
		return coordErr.HTTPStatus()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrInvalidInput):
		return 400
	case errors.Is(err, ErrUpstreamTimeout):
		return 504
	default:
		return 500
	}
}

// CodeFor returns the machine-readable error code for the API envelope.
func CodeFor(err error) string {
	var coordErr *CoordinationError
	if errors.As(err, &coordErr) {
		return string(coordErr.Type)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return string(ErrorTypeNotFound)
	case errors.Is(err, ErrUnauthorized):
		return string(ErrorTypeAuth)
	case errors.Is(err, ErrForbidden):
		return string(ErrorTypeForbidden)
	case errors.Is(err, ErrInvalidTransition):
		return string(ErrorTypeTransition)
	case errors.Is(err, ErrConflict):
		return string(ErrorTypeConflict)
	case errors.Is(err, ErrInvalidInput):
		return string(ErrorTypeValidation)
	case errors.Is(err, ErrUpstreamTimeout):
		return string(ErrorTypeTimeout)
	default:
		return string(ErrorTypeInternal)
	}
}
