package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrepError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with GrepError
	grepErr := New(ErrCodeCatalogCorrupt, "catalog damaged: catalog.db", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, grepErr)
	assert.Equal(t, originalErr, errors.Unwrap(grepErr))
	assert.True(t, errors.Is(grepErr, originalErr))
}

func TestGrepError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "validation error",
			code:     ErrCodeEmptyPattern,
			message:  "pattern must not be empty",
			expected: "[ERR_101_EMPTY_PATTERN] pattern must not be empty",
		},
		{
			name:     "integrity error",
			code:     ErrCodeCatalogCorrupt,
			message:  "integrity check failed",
			expected: "[ERR_201_CATALOG_CORRUPT] integrity check failed",
		},
		{
			name:     "backend error",
			code:     ErrCodeBackendExit,
			message:  "rg exited with status 2",
			expected: "[ERR_503_BACKEND_EXIT] rg exited with status 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestGrepError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code and one with a different code
	err1 := New(ErrCodeLockTimeout, "first", nil)
	err2 := New(ErrCodeLockTimeout, "second", nil)
	err3 := New(ErrCodeBudgetExceeded, "third", nil)

	// Then: errors.Is matches by code only
	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestCategoryFromCode_MapsRanges(t *testing.T) {
	tests := []struct {
		code     string
		expected Category
	}{
		{ErrCodeEmptyPattern, CategoryValidation},
		{ErrCodeSchemaMismatch, CategoryIntegrity},
		{ErrCodeLockTimeout, CategoryResource},
		{ErrCodeWatcherOverflow, CategoryCoverage},
		{ErrCodeBackendUnavailable, CategoryBackend},
		{ErrCodeInternal, CategoryInternal},
		{"bogus", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, categoryFromCode(tt.code))
		})
	}
}

func TestSeverityFromCode_DegradedCategoriesAreWarnings(t *testing.T) {
	// Given: resource and coverage failures degrade rather than fail
	assert.Equal(t, SeverityWarning, severityFromCode(ErrCodeLockTimeout))
	assert.Equal(t, SeverityWarning, severityFromCode(ErrCodeWatcherOverflow))

	// Then: everything else reports as a plain error
	assert.Equal(t, SeverityError, severityFromCode(ErrCodeCatalogCorrupt))
	assert.Equal(t, SeverityError, severityFromCode(ErrCodeBadPattern))
}

func TestIsRetryable_OnlyLockTimeout(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeLockTimeout, "busy", nil)))
	assert.False(t, IsRetryable(New(ErrCodeBackendExit, "exit 2", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail_AccumulatesContext(t *testing.T) {
	// Given: an error with chained details
	err := New(ErrCodeBloomParamMismatch, "stored params differ", nil).
		WithDetail("stored_m", "65536").
		WithDetail("expected_m", "131072").
		WithSuggestion("rebuild the index")

	// Then: details and suggestion are retained
	require.NotNil(t, err.Details)
	assert.Equal(t, "65536", err.Details["stored_m"])
	assert.Equal(t, "131072", err.Details["expected_m"])
	assert.Equal(t, "rebuild the index", err.Suggestion)
}

func TestGetCode_And_GetCategory(t *testing.T) {
	err := New(ErrCodeIgnoreChanged, "ignore file edited", nil)

	assert.Equal(t, ErrCodeIgnoreChanged, GetCode(err))
	assert.Equal(t, CategoryCoverage, GetCategory(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
