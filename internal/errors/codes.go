// Package errors provides structured error handling for amangrep.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Validation errors (rejected before any catalog access)
//   - 2XX: Integrity errors (corruption, schema or parameter mismatch)
//   - 3XX: Resource errors (locks, budgets, storage availability)
//   - 4XX: Coverage errors (watcher, enumeration, or policy drift)
//   - 5XX: Backend errors (search subprocess failures)
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates malformed request parameters or keys.
	CategoryValidation Category = "VALIDATION"
	// CategoryIntegrity indicates catalog corruption or stored-parameter mismatch.
	CategoryIntegrity Category = "INTEGRITY"
	// CategoryResource indicates lock timeouts and exceeded budgets.
	CategoryResource Category = "RESOURCE"
	// CategoryCoverage indicates events that may have hidden files from the catalog.
	CategoryCoverage Category = "COVERAGE"
	// CategoryBackend indicates search subprocess failures.
	CategoryBackend Category = "BACKEND"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Validation errors (100-199)
	ErrCodeEmptyPattern  = "ERR_101_EMPTY_PATTERN"
	ErrCodeInvalidFuzzy  = "ERR_102_INVALID_FUZZY_LEVEL"
	ErrCodeInvalidLimit  = "ERR_103_INVALID_LIMIT"
	ErrCodeInvalidPath   = "ERR_104_INVALID_PATH"
	ErrCodeInvalidGlob   = "ERR_105_INVALID_GLOB"
	ErrCodeInvalidCase   = "ERR_106_INVALID_CASE_MODE"
	ErrCodeInvalidConfig = "ERR_107_INVALID_CONFIG"

	// Integrity errors (200-299)
	ErrCodeCatalogCorrupt     = "ERR_201_CATALOG_CORRUPT"
	ErrCodeSchemaMismatch     = "ERR_202_SCHEMA_MISMATCH"
	ErrCodeBloomParamMismatch = "ERR_203_BLOOM_PARAM_MISMATCH"
	ErrCodeCheckpointCorrupt  = "ERR_204_CHECKPOINT_CORRUPT"
	ErrCodeQuarantineFailed   = "ERR_205_QUARANTINE_FAILED"

	// Resource errors (300-399)
	ErrCodeLockTimeout      = "ERR_301_LOCK_TIMEOUT"
	ErrCodeBudgetExceeded   = "ERR_302_BUDGET_EXCEEDED"
	ErrCodeCacheUnavailable = "ERR_303_CACHE_UNAVAILABLE"
	ErrCodeIndexEvicted     = "ERR_304_INDEX_EVICTED"
	ErrCodeDiskFull         = "ERR_305_DISK_FULL"

	// Coverage errors (400-499)
	ErrCodeWatcherOverflow  = "ERR_401_WATCHER_OVERFLOW"
	ErrCodeWatcherDead      = "ERR_402_WATCHER_DEAD"
	ErrCodeIgnoreChanged    = "ERR_403_IGNORE_RULES_CHANGED"
	ErrCodePolicyChanged    = "ERR_404_POLICY_CHANGED"
	ErrCodeEnumerateFailed  = "ERR_405_ENUMERATION_FAILED"
	ErrCodeRenameUncertain  = "ERR_406_RENAME_UNCERTAIN"
	ErrCodeReconcileAborted = "ERR_407_RECONCILE_ABORTED"

	// Backend errors (500-599)
	ErrCodeBackendUnavailable = "ERR_501_BACKEND_UNAVAILABLE"
	ErrCodeBackendStart       = "ERR_502_BACKEND_START"
	ErrCodeBackendExit        = "ERR_503_BACKEND_EXIT"
	ErrCodeBadPattern         = "ERR_504_BAD_PATTERN"
	ErrCodeBadInvocation      = "ERR_505_BAD_INVOCATION"
	ErrCodeBackendParse       = "ERR_506_OUTPUT_PARSE"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_EMPTY_PATTERN")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryIntegrity
	case '3':
		return CategoryResource
	case '4':
		return CategoryCoverage
	case '5':
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
// Resource and coverage failures degrade the search rather than fail it,
// so they carry warning severity; integrity and backend failures are errors.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryResource, CategoryCoverage:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
// Lock contention is the only condition worth an immediate retry; every
// other failure either degrades execution or needs state repair first.
func isRetryableCode(code string) bool {
	return code == ErrCodeLockTimeout
}
