// internal/common/errors/errors.go
// Package errors provides standardized error handling for the research pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Researcher stage
	ErrCodeSearchFailed  ErrorCode = "SEARCH_FAILED"
	ErrCodeSearchTimeout ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeNoFindings    ErrorCode = "NO_FINDINGS"
	ErrCodeSummaryFailed ErrorCode = "SUMMARY_FAILED"

	// Drafter stage
	ErrCodeMalformedDraft   ErrorCode = "MALFORMED_DRAFT"
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"

	// Critic stage
	ErrCodeUnparseableCritique ErrorCode = "UNPARSEABLE_CRITIQUE"

	// Shared external-call conditions
	ErrCodeGenerationTimeout ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeInvalidQuestion   ErrorCode = "INVALID_QUESTION"

	// Storage
	ErrCodeHistoryWriteFailed ErrorCode = "HISTORY_WRITE_FAILED"
	ErrCodeArchiveWriteFailed ErrorCode = "ARCHIVE_WRITE_FAILED"
	ErrCodeRunNotFound        ErrorCode = "RUN_NOT_FOUND"
	ErrCodeAlreadyRefined     ErrorCode = "ALREADY_REFINED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HasCode reports whether err is a StandardError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// CodeOf extracts the error code, or empty string for foreign errors.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// ==========================
// 2. Error Constructors
// ==========================

// NewSearchFailedError creates a retryable search transport error.
func NewSearchFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchFailed,
		Message:   "Web search API error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchTimeoutError creates a retryable search timeout error.
func NewSearchTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchTimeout,
		Message:   "Web search API timeout",
		Details:   "Search call exceeded the configured timeout",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoFindingsError creates a non-retryable empty-result error.
func NewNoFindingsError(question string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoFindings,
		Message:   "Search returned no usable results",
		Details:   fmt.Sprintf("question: %s", question),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSummaryFailedError creates a retryable summarization error.
func NewSummaryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSummaryFailed,
		Message:   "Summarization API error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedDraftError creates a non-retryable schema validation error.
func NewMalformedDraftError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedDraft,
		Message:   "Generated answer failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationFailedError creates a retryable generation API error.
func NewGenerationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationFailed,
		Message:   "Generation API error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnparseableCritiqueError creates a non-retryable critique parse error.
func NewUnparseableCritiqueError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnparseableCritique,
		Message:   "Critique response could not be parsed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationTimeoutError creates a retryable generation timeout error.
func NewGenerationTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationTimeout,
		Message:   "Generation API timeout",
		Details:   "Generation call exceeded the configured timeout",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidQuestionError creates a non-retryable input validation error.
func NewInvalidQuestionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuestion,
		Message:   "Question must be a non-empty string",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryWriteFailedError creates a retryable history store error.
func NewHistoryWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeHistoryWriteFailed,
		Message:   "Run history write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewArchiveWriteFailedError creates a retryable archive insert error.
func NewArchiveWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArchiveWriteFailed,
		Message:   "Run archive insert failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunNotFoundError creates a non-retryable lookup error.
func NewRunNotFoundError(runID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRunNotFound,
		Message:   "Research run not found",
		Details:   fmt.Sprintf("runId: %s", runID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyRefinedError creates a non-retryable refinement policy error.
func NewAlreadyRefinedError(runID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadyRefined,
		Message:   "Run already consumed its single refinement pass",
		Details:   fmt.Sprintf("runId: %s", runID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Retry Policy
// ==========================

// GetRetryCount returns the in-stage retry budget per error code. The
// pipeline-level refinement pass is a workflow step, not an error retry,
// and is not governed by this table.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSearchFailed,
		ErrCodeSummaryFailed,
		ErrCodeGenerationFailed,
		ErrCodeHistoryWriteFailed,
		ErrCodeArchiveWriteFailed:
		return 3

	case ErrCodeSearchTimeout,
		ErrCodeGenerationTimeout:
		return 1

	default:
		return 0 // Validation and policy errors: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "FINDINGS"):
		return "RESEARCH"
	case strings.Contains(codeStr, "SUMMARY") || strings.Contains(codeStr, "GENERATION"):
		return "GENERATION"
	case strings.Contains(codeStr, "DRAFT") || strings.Contains(codeStr, "CRITIQUE"):
		return "VALIDATION"
	case strings.Contains(codeStr, "HISTORY") || strings.Contains(codeStr, "ARCHIVE") || strings.Contains(codeStr, "RUN"):
		return "STORAGE"
	default:
		return "OTHER"
	}
}
