package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStateConflict = errors.New("state conflict")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// SchemaError means the payload shape itself is malformed. It is fatal to the
// single Apply call that received it; nothing is written.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", e.Detail)
}

// DuplicateIgnored is not an error condition: a natural-key or evidence
// identity collision was resolved by upsert/no-op. Callers may log it and
// continue.
var DuplicateIgnored = errors.New("duplicate ignored")
