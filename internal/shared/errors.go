package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error unwraps to exactly one of these.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a business rule violation with a reason code.
	ErrConflict = errors.New("conflict")
	// ErrConsistency indicates a concurrent modification or partial write; the caller must retry
	// the whole submission.
	ErrConsistency = errors.New("consistency failure")
)

// Common reason codes shared by several modules.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeIdempotencyConflict    = "IDEMPOTENCY_CONFLICT"
)

// DomainError carries a kind, a stable reason code and optional per-field messages.
type DomainError struct {
	Kind    error
	Code    string
	Message string
	Fields  map[string]string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrConflict) works on wrapped errors.
func (e *DomainError) Unwrap() error {
	return e.Kind
}

// Validation builds a validation error.
func Validation(code, message string) *DomainError {
	return &DomainError{Kind: ErrValidation, Code: code, Message: message}
}

// Conflict builds a business rule violation.
func Conflict(code, message string) *DomainError {
	return &DomainError{Kind: ErrConflict, Code: code, Message: message}
}

// NotFound builds a not-found error.
func NotFound(code, message string) *DomainError {
	return &DomainError{Kind: ErrNotFound, Code: code, Message: message}
}

// Consistency builds a retryable consistency failure.
func Consistency(code, message string) *DomainError {
	return &DomainError{Kind: ErrConsistency, Code: code, Message: message}
}

// InvalidFields builds a validation error listing offending fields.
func InvalidFields(fields map[string]string) *DomainError {
	return &DomainError{
		Kind:    ErrValidation,
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("validation failed on %d field(s)", len(fields)),
		Fields:  fields,
	}
}

// ErrConcurrentModification is returned when a ledger row or document changed under us.
var ErrConcurrentModification = Consistency(CodeConcurrentModification, "concurrent modification detected, retry the submission")

// CodeOf returns the reason code carried by err, or an empty string.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// FieldsOf returns per-field validation messages carried by err.
func FieldsOf(err error) map[string]string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}

// IsRetryable reports whether the submission may be retried from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConsistency)
}
