// Package errors provides the typed error taxonomy for the reconciliation
// engine. Every error carries a category, a machine-readable code, and
// optional context so callers can branch on outcome without string matching.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryLedger         ErrorCategory = "ledger"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeInvalidLine   ErrorCode = "invalid_line"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeEmptyReason   ErrorCode = "empty_reason"

	// Ledger errors
	CodeDuplicateActiveMatch ErrorCode = "duplicate_active_match"
	CodeUnknownMatch         ErrorCode = "unknown_match"
	CodeInvalidTransition    ErrorCode = "invalid_transition"

	// Reconciliation errors
	CodeNotReady            ErrorCode = "not_ready"
	CodeConcurrentRun       ErrorCode = "concurrent_run"
	CodeAlreadySignedOff    ErrorCode = "already_signed_off"
	CodeUnknownLine         ErrorCode = "unknown_line"
	CodeUnknownDiscrepancy  ErrorCode = "unknown_discrepancy"
	CodeUnknownRecord       ErrorCode = "unknown_record"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// EngineError is the base error type for all engine errors
type EngineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error
func (e *EngineError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryLedger:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation:
		return 5
	case CategoryInternal:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError
func New(category ErrorCategory, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ValidationError creates a validation error for a malformed statement line
// or a rejected manual action. Validation failures are scoped to the line
// they occur on and never abort the surrounding batch.
func ValidationError(code ErrorCode, field string, value interface{}) *EngineError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be fixed-point decimals with at most 2 places"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use the YYYY-MM-DD calendar date format"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeEmptyReason:
		message = fmt.Sprintf("a non-empty reason is required for '%s'", field)
		suggestion = "state why the record is being resolved or rejected"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return New(CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// DuplicateActiveMatch signals the at-most-one-confirmed-match invariant was
// violated. This is always a programmer defect, never a user-facing outcome.
func DuplicateActiveMatch(lineID string) *EngineError {
	return New(CategoryLedger, CodeDuplicateActiveMatch,
		fmt.Sprintf("line %s already has a confirmed match", lineID)).
		WithContext("line_id", lineID)
}

// NotReady signals a sign-off attempt while residual variance exceeds
// tolerance. Recoverable by resolving the open discrepancies.
func NotReady(runID, blockingReason string) *EngineError {
	return New(CategoryReconciliation, CodeNotReady,
		fmt.Sprintf("run %s is not ready for sign-off: %s", runID, blockingReason)).
		WithSuggestion("resolve or waive the open discrepancies and retry").
		WithContext("run_id", runID).
		WithContext("blocking_reason", blockingReason)
}

// ConcurrentRun signals a cascade was requested while one is already in
// flight for the same run. Retryable once the in-flight cascade completes.
func ConcurrentRun(runID string) *EngineError {
	return New(CategoryReconciliation, CodeConcurrentRun,
		fmt.Sprintf("a cascade is already in progress for run %s", runID)).
		WithSuggestion("wait for the in-flight cascade to finish and retry").
		WithContext("run_id", runID)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(message string, err error) *EngineError {
	if err != nil {
		return Wrap(err, CategoryConfiguration, CodeInvalidConfig, message)
	}
	return New(CategoryConfiguration, CodeInvalidConfig, message)
}

// InternalError creates an internal error for unexpected conditions
func InternalError(message string, err error) *EngineError {
	result := Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	if result == nil {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}
	return result.WithSuggestion("this is a defect; report it with the run context")
}

// GetCategory extracts the category from an error, if it is an EngineError
func GetCategory(err error) (ErrorCategory, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Category, true
	}
	return "", false
}

// GetCode extracts the code from an error, if it is an EngineError
func GetCode(err error) (ErrorCode, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code, true
	}
	return "", false
}

// HasCode reports whether err is an EngineError with the given code
func HasCode(err error, code ErrorCode) bool {
	c, ok := GetCode(err)
	return ok && c == code
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	c, ok := GetCategory(err)
	return ok && c == CategoryValidation
}

// IsDuplicateActiveMatch reports whether err violates the active-match invariant
func IsDuplicateActiveMatch(err error) bool {
	return HasCode(err, CodeDuplicateActiveMatch)
}

// IsNotReady reports whether err is a sign-off readiness failure
func IsNotReady(err error) bool {
	return HasCode(err, CodeNotReady)
}

// IsConcurrentRun reports whether err is a concurrent cascade rejection
func IsConcurrentRun(err error) bool {
	return HasCode(err, CodeConcurrentRun)
}

// GetExitCode returns the exit code for any error
func GetExitCode(err error) int {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.GetExitCode()
	}
	return 1
}

// FormatUserMessage formats an error for end-user display
func FormatUserMessage(err error) string {
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s", engineErr.Message))

	if engineErr.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\nSuggestion: %s", engineErr.Suggestion))
	}

	if len(engineErr.Context) > 0 {
		sb.WriteString("\nDetails:")
		for key, value := range engineErr.Context {
			sb.WriteString(fmt.Sprintf("\n  %s: %v", key, value))
		}
	}

	return sb.String()
}
