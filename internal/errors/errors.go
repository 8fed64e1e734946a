// Package errors provides a lightweight structured error type (IndexerError)
// for category-based classification and retry semantics across the pipeline.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of an indexer error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig ErrorCategory = "config"

	// External service integration errors
	CategoryCrawl ErrorCategory = "crawl"
	CategoryAuth  ErrorCategory = "auth"

	// Processing errors
	CategoryNormalize  ErrorCategory = "normalize"
	CategoryMerge      ErrorCategory = "merge"
	CategoryValidation ErrorCategory = "validation"

	// Output and infrastructure errors
	CategoryPublish  ErrorCategory = "publish"
	CategoryState    ErrorCategory = "state"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the current run
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded output
)

// IndexerError is a structured error with category, retryability, and context
type IndexerError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for IndexerError
type ContextFields map[string]any

// Error implements the error interface
func (e *IndexerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *IndexerError) WithContext(key string, value any) *IndexerError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new IndexerError
func New(category ErrorCategory, severity ErrorSeverity, message string) *IndexerError {
	return &IndexerError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new IndexerError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *IndexerError {
	return &IndexerError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// WrapRetryable creates a new retryable IndexerError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *IndexerError {
	return &IndexerError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ie, ok := err.(*IndexerError); ok {
		return ie.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if ie, ok := err.(*IndexerError); ok {
		return ie.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not an IndexerError
func GetCategory(err error) ErrorCategory {
	if ie, ok := err.(*IndexerError); ok {
		return ie.Category
	}
	return CategoryInternal
}

// ConfigError creates a fatal configuration error
func ConfigError(message string) *IndexerError {
	return &IndexerError{
		Category: CategoryConfig,
		Severity: SeverityFatal,
		Message:  message,
	}
}

// ValidationError creates a validation error (aborts publication only)
func ValidationError(message string) *IndexerError {
	return &IndexerError{
		Category: CategoryValidation,
		Severity: SeverityError,
		Message:  message,
	}
}

// CrawlError creates a retryable crawl error for a page or repository fetch
func CrawlError(message string) *IndexerError {
	return &IndexerError{
		Category:  CategoryCrawl,
		Severity:  SeverityWarning,
		Message:   message,
		Retryable: true,
	}
}
