package browser

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies driver failures so callers can decide between
// retrying, failing the job, or aborting the whole run.
type ErrorCategory string

const (
	// CategoryConfiguration - no selectors registered, missing settings.
	// Non-retryable, fatal to the current job.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategorySelectorNotFound - no candidate selector resolved. Retryable;
	// elements may need time to appear after navigation.
	CategorySelectorNotFound ErrorCategory = "selector_not_found"

	// CategorySessionExpired - authentication lost or login timed out.
	// Non-retryable; aborts the entire run.
	CategorySessionExpired ErrorCategory = "session_expired"

	// CategoryWaitTimeout - a bounded long-wait expired. Distinct from
	// selector resolution failure.
	CategoryWaitTimeout ErrorCategory = "wait_timeout"

	// CategoryDownloadFailed - artifact retrieval failed. Retryable.
	CategoryDownloadFailed ErrorCategory = "download_failed"

	// CategoryNetwork - transient connection failure. Retryable.
	CategoryNetwork ErrorCategory = "network"
)

// userMessages maps categories to actionable text surfaced to the user
var userMessages = map[ErrorCategory]string{
	CategoryConfiguration:    "Automation is misconfigured. Check the selector registry and settings.",
	CategorySelectorNotFound: "UI selectors no longer match the page. The site may have been updated.",
	CategorySessionExpired:   "Your login session has expired. Please log in again.",
	CategoryWaitTimeout:      "The site was too slow to respond. Try again or check your connection.",
	CategoryDownloadFailed:   "Generated files could not be downloaded. Try again after a few seconds.",
	CategoryNetwork:          "Network connection lost during processing. Check your internet connection.",
}

// DriverError is raised when a browser interaction fails
type DriverError struct {
	Category ErrorCategory
	message  string
	cause    error
}

// NewDriverError creates a categorized driver error
func NewDriverError(category ErrorCategory, format string, args ...interface{}) *DriverError {
	return &DriverError{
		Category: category,
		message:  fmt.Sprintf(format, args...),
	}
}

// WrapDriverError attaches a category to an underlying error
func WrapDriverError(category ErrorCategory, cause error, message string) *DriverError {
	return &DriverError{
		Category: category,
		message:  message,
		cause:    cause,
	}
}

func (e *DriverError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *DriverError) Unwrap() error {
	return e.cause
}

// UserMessage returns an actionable message for the user
func (e *DriverError) UserMessage() string {
	if msg, ok := userMessages[e.Category]; ok {
		return msg
	}
	return e.message
}

// Retryable reports whether repeating the operation can succeed
func (e *DriverError) Retryable() bool {
	switch e.Category {
	case CategoryConfiguration, CategorySessionExpired, CategoryWaitTimeout:
		return false
	default:
		return true
	}
}

// IsRetryable classifies any error for the retry policy: DriverErrors answer
// for themselves, everything else is assumed transient.
func IsRetryable(err error) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return true
}

// CategoryOf extracts the category from an error chain, or "" if none
func CategoryOf(err error) ErrorCategory {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}
