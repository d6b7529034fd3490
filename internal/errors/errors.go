package errors

import (
	"fmt"
)

// IndexerError is the structured error type for code-indexer.
// It provides rich context for error handling, logging, and RPC responses.
type IndexerError struct {
	// Code is the unique error code (e.g., "ERR_103_FINGERPRINT_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexerError.
func (e *IndexerError) Is(target error) bool {
	if t, ok := target.(*IndexerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexerError) WithDetail(key, value string) *IndexerError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexerError) WithSuggestion(suggestion string) *IndexerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexerError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexerError {
	return &IndexerError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexerError from an existing error.
// The error's message becomes the IndexerError message.
func Wrap(code string, err error) *IndexerError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates a validation error for bad caller input.
func InvalidInput(message string) *IndexerError {
	return New(ErrCodeInvalidInput, message, nil)
}

// InvalidQuery creates an error for empty or malformed queries.
func InvalidQuery(message string) *IndexerError {
	return New(ErrCodeInvalidQuery, message, nil)
}

// FingerprintMismatch creates a fatal error for (provider, model, dim) changes.
func FingerprintMismatch(want, got string) *IndexerError {
	return New(ErrCodeFingerprintMismatch,
		fmt.Sprintf("embedding fingerprint changed: index built with %s, current is %s", want, got), nil).
		WithSuggestion("run 'code-indexer index --clear' to rebuild with the current model")
}

// DimensionMismatch creates a fatal per-query dimension error.
func DimensionMismatch(expected, got int) *IndexerError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: collection expects %d, query embedding has %d", expected, got), nil).
		WithSuggestion("run 'code-indexer index --clear' to rebuild the collection")
}

// CollectionMissing creates an error for queries against a non-existent collection.
func CollectionMissing(name string) *IndexerError {
	return New(ErrCodeCollectionMissing,
		fmt.Sprintf("collection %q does not exist", name), nil).
		WithSuggestion("run 'code-indexer index' first")
}

// CacheExpired creates a non-fatal error for evicted payload-cache handles.
func CacheExpired(handle string) *IndexerError {
	return New(ErrCodeCacheExpired,
		fmt.Sprintf("cache handle %q is unknown or expired", handle), nil).
		WithSuggestion("re-run the query to obtain a fresh handle")
}

// ProviderTransient creates a retryable provider error.
func ProviderTransient(message string, cause error) *IndexerError {
	return New(ErrCodeProviderTransient, message, cause)
}

// ProviderFailed creates a terminal provider error after retries are exhausted.
func ProviderFailed(message string, cause error) *IndexerError {
	return New(ErrCodeProviderFailed, message, cause)
}

// CorruptArtifact creates a skip-and-report error for damaged on-disk state.
func CorruptArtifact(message string, cause error) *IndexerError {
	return New(ErrCodeCorruptArtifact, message, cause).
		WithSuggestion("run 'code-indexer index --reconcile' to self-heal")
}

// Cancelled creates a clean cancellation error; partial state is committed.
func Cancelled(op string) *IndexerError {
	return New(ErrCodeCancelled, fmt.Sprintf("%s cancelled", op), nil)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := err.(*IndexerError); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := err.(*IndexerError); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexerError.
// Returns empty string if not an IndexerError.
func GetCode(err error) string {
	if ie, ok := err.(*IndexerError); ok {
		return ie.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	for err != nil {
		if ie, ok := err.(*IndexerError); ok && ie.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
