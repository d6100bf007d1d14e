// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: configuration errors
//   - 2XX: path and file errors
//   - 3XX: backend (LLM/HTTP) errors
//   - 4XX: contention errors (locks, DB writer)
//   - 5XX: integrity errors
//   - 6XX: lifecycle errors
package errors

// Error codes organized by category.
const (
	// Config errors (100-199)
	CodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	CodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Path and file errors (200-299)
	CodePathNotFound  = "ERR_201_PATH_NOT_FOUND"
	CodePathTraversal = "ERR_202_PATH_TRAVERSAL"
	CodeFileTooLarge  = "ERR_203_FILE_TOO_LARGE"
	CodePathInvalid   = "ERR_204_PATH_INVALID"

	// Backend errors (300-399)
	CodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	CodeBackendHTTP        = "ERR_302_BACKEND_HTTP"
	CodeBackendParse       = "ERR_303_BACKEND_PARSE"
	CodeBackendRateLimited = "ERR_304_BACKEND_RATE_LIMITED"
	CodeBackendExhausted   = "ERR_305_BACKEND_EXHAUSTED"

	// Contention errors (400-499)
	CodeResourceBusy = "ERR_401_RESOURCE_BUSY"
	CodeDbBusy       = "ERR_402_DB_BUSY"
	CodeLeaseExpired = "ERR_403_LEASE_EXPIRED"

	// Integrity errors (500-599)
	CodeIntegrity       = "ERR_501_INTEGRITY"
	CodeSchemaVersion   = "ERR_502_SCHEMA_VERSION"
	CodeGraphInvariant  = "ERR_503_GRAPH_INVARIANT"
	CodeDocHashMismatch = "ERR_504_DOC_HASH_MISMATCH"
	CodeStaleFence      = "ERR_505_STALE_FENCE"

	// Lifecycle errors (600-699)
	CodeCancelled = "ERR_601_CANCELLED"
	CodeFatal     = "ERR_602_FATAL"
)

// kindFromCode derives the Kind bucket from a code's numeric range.
func kindFromCode(code string) Kind {
	if len(code) < 7 {
		return KindFatal
	}
	switch code[4] {
	case '1':
		return KindConfig
	case '2':
		return KindPath
	case '3':
		return KindBackend
	case '4':
		switch code {
		case CodeDbBusy:
			return KindDbBusy
		default:
			return KindResourceBusy
		}
	case '5':
		return KindIntegrity
	case '6':
		if code == CodeCancelled {
			return KindCancelled
		}
		return KindFatal
	default:
		return KindFatal
	}
}

// isRetryableCode reports whether operations failing with this code are
// safe to retry with backoff.
func isRetryableCode(code string) bool {
	switch code {
	case CodeBackendTimeout, CodeBackendHTTP, CodeBackendRateLimited,
		CodeResourceBusy, CodeDbBusy:
		return true
	}
	return false
}

// ExitCode maps an error chain to the CLI exit code contract:
// 0 success, 2 usage, 3 configuration, 4 resource busy, 5 integrity,
// 1 catch-all. Usage errors are handled by the CLI layer itself.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfig:
		return 3
	case KindResourceBusy, KindDbBusy:
		return 4
	case KindIntegrity:
		return 5
	default:
		return 1
	}
}
