package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrNotFound     ErrorType = "NOT_FOUND"
	ErrInvalidInput ErrorType = "INVALID_INPUT"
	ErrInternal     ErrorType = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func isType(err error, errType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return true
	}
	return isType(err, ErrNotFound)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return isType(err, ErrInvalidInput)
}

// IsValidationError checks if the error is a validation error
// This is an alias for IsInvalidInput since validation errors are a type of invalid input error
func IsValidationError(err error) bool {
	return IsInvalidInput(err)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return New(ErrNotFound, message, err)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return New(ErrInvalidInput, message, err)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return New(ErrInternal, message, err)
}

// SyncInProgressError represents an error when a run of the sync is already active
type SyncInProgressError struct {
	SyncID int64
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("sync %d is already running", e.SyncID)
}

// NewSyncInProgressError creates a new SyncInProgressError
func NewSyncInProgressError(syncID int64) error {
	return &SyncInProgressError{
		SyncID: syncID,
	}
}

// IsSyncInProgress checks if the error reports an already running sync
func IsSyncInProgress(err error) bool {
	var inProgress *SyncInProgressError
	return stderrors.As(err, &inProgress)
}

// FailedToStartError is returned synchronously when a re-sync cannot begin
type FailedToStartError struct {
	Cause error
}

func (e *FailedToStartError) Error() string {
	return fmt.Sprintf("failed to start sync: %v", e.Cause)
}

func (e *FailedToStartError) Unwrap() error {
	return e.Cause
}

// NewFailedToStartError wraps the reason a run could not start
func NewFailedToStartError(cause error) error {
	return &FailedToStartError{Cause: cause}
}

// IsFailedToStart checks if the error is a start failure
func IsFailedToStart(err error) bool {
	var fts *FailedToStartError
	return stderrors.As(err, &fts)
}

// NotFoundError represents a not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewResourceNotFoundError creates a new NotFoundError for a specific resource
func NewResourceNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}
