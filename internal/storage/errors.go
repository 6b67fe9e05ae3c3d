// Package storage provides custom error types for storage backend
// initialization and connection handling.
package storage

import "fmt"

// ErrInvalidProfile indicates an invalid deployment profile configuration:
// profile is not "standalone" or "cluster", or the database driver doesn't
// match what the profile requires.
type ErrInvalidProfile struct {
	Profile string
	Cause   error
}

func (e *ErrInvalidProfile) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid deployment profile %q: %v", e.Profile, e.Cause)
	}
	return fmt.Sprintf("invalid deployment profile: %s (must be standalone or cluster)", e.Profile)
}

func (e *ErrInvalidProfile) Unwrap() error { return e.Cause }

// ErrStorageInitFailed indicates backend initialization failure: SQLite file
// open, Postgres connection, or schema migration.
type ErrStorageInitFailed struct {
	Backend string
	Profile string
	Cause   error
}

func (e *ErrStorageInitFailed) Error() string {
	return fmt.Sprintf("storage initialization failed (backend=%s, profile=%s): %v",
		e.Backend, e.Profile, e.Cause)
}

func (e *ErrStorageInitFailed) Unwrap() error { return e.Cause }

// ErrInvalidFilePath indicates an invalid SQLite file path: contains "..",
// a forbidden prefix, or is empty for the standalone profile.
type ErrInvalidFilePath struct {
	Path   string
	Reason string
}

func (e *ErrInvalidFilePath) Error() string {
	return fmt.Sprintf("invalid file path %q: %s", e.Path, e.Reason)
}

// ErrConnectionFailed indicates a backend connection failure: SQLite file
// open, Postgres network timeout, or connection pool exhaustion.
type ErrConnectionFailed struct {
	Backend string
	Cause   error
}

func (e *ErrConnectionFailed) Error() string {
	return fmt.Sprintf("storage connection failed (%s): %v", e.Backend, e.Cause)
}

func (e *ErrConnectionFailed) Unwrap() error { return e.Cause }

// ErrSchemaInitFailed indicates schema migration failure against either
// backend.
type ErrSchemaInitFailed struct {
	Backend string
	Table   string
	Cause   error
}

func (e *ErrSchemaInitFailed) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("schema initialization failed (%s, table=%s): %v",
			e.Backend, e.Table, e.Cause)
	}
	return fmt.Sprintf("schema initialization failed (%s): %v", e.Backend, e.Cause)
}

func (e *ErrSchemaInitFailed) Unwrap() error { return e.Cause }

// Error type classification for metrics labeling.
const (
	ErrorTypeConnection = "connection"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeValidation = "validation"
	ErrorTypeSchema     = "schema"
	ErrorTypeUnknown    = "unknown"
)

// ClassifyError buckets err into one of the ErrorType* constants so callers
// get a consistent metric label regardless of the underlying Go type.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case isConnectionError(err):
		return ErrorTypeConnection
	case isValidationError(err):
		return ErrorTypeValidation
	case isSchemaError(err):
		return ErrorTypeSchema
	default:
		return ErrorTypeUnknown
	}
}

func isConnectionError(err error) bool {
	_, ok := err.(*ErrConnectionFailed)
	return ok
}

func isValidationError(err error) bool {
	if _, ok := err.(*ErrInvalidFilePath); ok {
		return true
	}
	_, ok := err.(*ErrInvalidProfile)
	return ok
}

func isSchemaError(err error) bool {
	_, ok := err.(*ErrSchemaInitFailed)
	return ok
}
