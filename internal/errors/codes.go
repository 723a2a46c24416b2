// Package errors provides structured error handling for exemplar.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and store errors
//   - 3XX: Embedding/network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, database, and index store errors.
	CategoryIO Category = "IO"
	// CategoryEmbedding indicates embedding backend errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeStoreUnreachable = "ERR_201_STORE_UNREACHABLE"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeShardMissing     = "ERR_206_SHARD_MISSING"

	// Embedding errors (300-399)
	ErrCodeEmbedTimeout     = "ERR_301_EMBED_TIMEOUT"
	ErrCodeEmbedUnavailable = "ERR_302_EMBED_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode derives the category from the numeric range.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// retryableCodes lists transient failures worth retrying.
var retryableCodes = map[string]bool{
	ErrCodeStoreUnreachable: true,
	ErrCodeEmbedTimeout:     true,
	ErrCodeEmbedUnavailable: true,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
