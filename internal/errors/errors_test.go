package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"fingerprint is fatal", ErrCodeFingerprintMismatch, CategoryConfig, SeverityFatal, false},
		{"corrupt artifact", ErrCodeCorruptArtifact, CategoryIO, SeverityError, false},
		{"transient provider retryable", ErrCodeProviderTransient, CategoryProvider, SeverityWarning, true},
		{"dimension mismatch fatal", ErrCodeDimensionMismatch, CategoryValidation, SeverityFatal, false},
		{"cache expired", ErrCodeCacheExpired, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := CollectionMissing("code")
	target := New(ErrCodeCollectionMissing, "", nil)

	assert.True(t, stderrors.Is(err, target))
	assert.False(t, stderrors.Is(err, New(ErrCodeCacheExpired, "", nil)))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk exploded")
	err := Wrap(ErrCodeDiskFull, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, IsFatal(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := ProviderTransient("http 503", nil)
	outer := fmt.Errorf("batch 3: %w", inner)

	assert.True(t, HasCode(outer, ErrCodeProviderTransient))
	assert.False(t, HasCode(outer, ErrCodeProviderFailed))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ProviderTransient("timeout", nil)))
	assert.False(t, IsRetryable(ProviderFailed("gave up", nil)))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := InvalidQuery("query is empty").
		WithDetail("kind", "semantic").
		WithSuggestion("provide a non-empty query")

	assert.Equal(t, "semantic", err.Details["kind"])
	assert.NotEmpty(t, err.Suggestion)
	assert.Contains(t, err.Error(), ErrCodeInvalidQuery)
}
