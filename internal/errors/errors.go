package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeValidation        ErrCode = "VALIDATION_ERROR"
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeAnalysis          ErrCode = "ANALYSIS_ERROR"
	ErrCodePersistence       ErrCode = "PERSISTENCE_ERROR"
	ErrCodeNotCompleted      ErrCode = "NOT_COMPLETED"
	ErrCodeInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrCodeConflict          ErrCode = "CONFLICT"
	ErrCodeInternal          ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest        ErrCode = "BAD_REQUEST"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError creates an error for a malformed request
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewAnalysisError creates an error for a failed analysis of one item
func NewAnalysisError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeAnalysis,
		Message: message,
		Err:     err,
	}
}

// NewPersistenceError creates an error for an unreachable or inconsistent store
func NewPersistenceError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodePersistence,
		Message: message,
		Err:     err,
	}
}

// NewNotCompletedError creates an error for operations that need a completed batch
func NewNotCompletedError(batchID string) *AppError {
	return &AppError{
		Code:    ErrCodeNotCompleted,
		Message: fmt.Sprintf("batch %s has not completed", batchID),
	}
}

// NewInvalidTransitionError creates an error for a non-monotonic status change
func NewInvalidTransitionError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidTransition,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsPersistence checks if the error is a persistence error
func IsPersistence(err error) bool {
	return CodeOf(err) == ErrCodePersistence
}

// IsNotCompleted checks if the error is a not completed error
func IsNotCompleted(err error) bool {
	return CodeOf(err) == ErrCodeNotCompleted
}

// IsInvalidTransition checks if the error is an invalid transition error
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}
