package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is matched when the remote record does not exist
	ErrNotFound = errors.New("remote record not found")
	// ErrConflict is matched when the backend rejects a write because the record changed
	ErrConflict = errors.New("remote record changed")
)

// RemoteError is a failed backend call
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("remote error (status %d): %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may succeed when repeated
func (e *RemoteError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewRemoteError creates a RemoteError, classifying well-known status codes
func NewRemoteError(statusCode int, message string, err error) error {
	if err == nil {
		switch statusCode {
		case http.StatusNotFound:
			err = ErrNotFound
		case http.StatusConflict, http.StatusPreconditionFailed:
			err = ErrConflict
		}
	}
	return &RemoteError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// IsNotFound checks if the backend reported the record missing
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the backend rejected a write as conflicting
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ValidationError represents invalid input to client methods
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: invalid %s: %s", e.Field, e.Value)
}

// Retryable is always false: the same input fails the same way
func (e *ValidationError) Retryable() bool {
	return false
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, value string) error {
	return &ValidationError{
		Field: field,
		Value: value,
	}
}
