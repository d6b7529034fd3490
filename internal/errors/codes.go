// Package errors provides structured error handling for code-indexer.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and fingerprint errors
//   - 2XX: IO and artifact errors
//   - 3XX: Provider (network) errors
//   - 4XX: Validation errors
//   - 5XX: Internal and lifecycle errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates embedding-provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config / fingerprint errors (100-199)
	ErrCodeConfigNotFound      = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid       = "ERR_102_CONFIG_INVALID"
	ErrCodeFingerprintMismatch = "ERR_103_FINGERPRINT_MISMATCH"

	// IO / artifact errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeDiskFull          = "ERR_202_DISK_FULL"
	ErrCodeCorruptArtifact   = "ERR_203_CORRUPT_ARTIFACT"
	ErrCodeCollectionMissing = "ERR_204_COLLECTION_MISSING"
	ErrCodeMatrixMissing     = "ERR_205_MATRIX_MISSING"

	// Provider errors (300-399)
	ErrCodeProviderTransient = "ERR_301_PROVIDER_TRANSIENT"
	ErrCodeProviderFailed    = "ERR_302_PROVIDER_FAILED"
	ErrCodeProviderTimeout   = "ERR_303_PROVIDER_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery      = "ERR_402_INVALID_QUERY"
	ErrCodeDimensionMismatch = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeInvalidPath       = "ERR_404_INVALID_PATH"

	// Internal / lifecycle errors (500-599)
	ErrCodeInternal            = "ERR_501_INTERNAL"
	ErrCodeCacheExpired        = "ERR_502_CACHE_EXPIRED"
	ErrCodeAlreadyRunning      = "ERR_503_ALREADY_RUNNING"
	ErrCodeCancelled           = "ERR_504_CANCELLED"
	ErrCodeUnsupportedProxyCmd = "ERR_505_UNSUPPORTED_PROXY_COMMAND"
	ErrCodeIndexFailed         = "ERR_506_INDEX_FAILED"
	ErrCodeSearchFailed        = "ERR_507_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "103" from "ERR_103_FINGERPRINT_MISMATCH"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeFingerprintMismatch, ErrCodeDimensionMismatch, ErrCodeDiskFull, ErrCodeMatrixMissing:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTransient, ErrCodeProviderTimeout:
		return true
	default:
		return false
	}
}
