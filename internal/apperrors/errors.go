// Package apperrors provides the structured error taxonomy shared by the
// job lifecycle packages and the CLI.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrMalformedInput  = errors.New("malformed input")
	ErrAlreadyExists   = errors.New("already exists")
	ErrSubmissionParse = errors.New("submission parse error")
	ErrExternalTool    = errors.New("external tool error")
)

// Error carries a sentinel plus context about what failed.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "walltime")
	Resource string // For not found/exists errors (e.g., "alignment file")
	Op       string // Operation that failed (e.g., "ngsub")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  fmt.Sprintf("invalid %s: %s", field, message),
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// MalformedInput reports a resource that exists but cannot be parsed.
func MalformedInput(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrMalformedInput,
		Message:  fmt.Sprintf("%s %s is malformed: %s", resource, id, reason),
		Resource: resource,
	}
}

// AlreadyExists creates a collision error for a resource.
func AlreadyExists(resource, id string) error {
	return &Error{
		Sentinel: ErrAlreadyExists,
		Message:  fmt.Sprintf("%s %s already exists", resource, id),
		Resource: resource,
	}
}

// SubmissionParse reports tool output that did not contain a job identifier.
func SubmissionParse(op, reason string) error {
	return &Error{
		Sentinel: ErrSubmissionParse,
		Message:  fmt.Sprintf("%s: %s", op, reason),
		Op:       op,
	}
}

// ExternalTool wraps a failure to run an external executable.
func ExternalTool(op string, cause error) error {
	return &Error{
		Sentinel: ErrExternalTool,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsValidation returns true if err is classified as a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound returns true if err is classified as not found.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsMalformedInput returns true if err is classified as malformed input.
func IsMalformedInput(err error) bool { return errors.Is(err, ErrMalformedInput) }

// IsAlreadyExists returns true if err is classified as a collision.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsExternalTool returns true if err is classified as an external tool failure.
func IsExternalTool(err error) bool { return errors.Is(err, ErrExternalTool) }
