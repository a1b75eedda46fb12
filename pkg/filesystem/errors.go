package filesystem

import (
	"errors"
	"fmt"
)

// ============================================================================
// Standard Storage Errors
// ============================================================================

// These sentinels provide one unified error vocabulary across all backends.
// Backends wrap them with context:
//
//	return fmt.Errorf("file %s: %w", name, filesystem.ErrFileNotFound)
//
// and callers branch with errors.Is. Nothing backend-specific leaks through
// unwrapped: a backend failure that maps to none of the sentinels is wrapped
// in ErrStorage via WrapStorage.

var (
	// ErrFileNotFound indicates the referenced file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrFolderNotFound indicates the referenced folder does not exist.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrFileExists indicates the destination file already exists and
	// neither overwrite nor backup rollover allows replacing it.
	ErrFileExists = errors.New("file already exists")

	// ErrFolderExists indicates the folder to create already exists.
	ErrFolderExists = errors.New("folder already exists")

	// ErrFolderNotEmpty indicates a non-recursive folder removal hit a
	// folder that still has contents.
	ErrFolderNotEmpty = errors.New("folder not empty")

	// ErrNotAFolder indicates an existing non-folder object occupies a
	// path where a folder is required. Always a hard error.
	ErrNotAFolder = errors.New("not a folder")

	// ErrNotSupported indicates the backend does not provide the requested
	// operation (no native append, no outbound transport). Permanent.
	ErrNotSupported = errors.New("operation not supported")

	// ErrInvalidHandle indicates a Handle produced by a different
	// FileSystem instance, or of the wrong type, was passed in.
	ErrInvalidHandle = errors.New("invalid file handle")

	// ErrConnection indicates the backend session is broken. The connector
	// that surfaced it must be invalidated rather than returned to its
	// pool.
	ErrConnection = errors.New("connection failure")

	// ErrClosed indicates the filesystem was used before Open or after
	// Close.
	ErrClosed = errors.New("filesystem is closed")

	// ErrStorage is the generic wrapper for backend failures that map to
	// no more specific sentinel.
	ErrStorage = errors.New("storage error")
)

// WrapStorage wraps a backend-specific failure into the unified storage
// error, preserving the cause for errors.Is/As.
func WrapStorage(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, cause)
}

// ============================================================================
// ActionError
// ============================================================================

// ActionError reports the failure of one engine action, carrying the action
// name, the target it operated on, and the cause.
type ActionError struct {
	Action Action
	Target string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("action [%s] failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action [%s] on [%s] failed: %v", e.Action, e.Target, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ConfigError indicates an invalid setup: an action the bound backend
// cannot support, or a missing required attribute. Configuration errors
// surface at setup time, never at call time.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigError builds a ConfigError with fmt.Sprintf semantics.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
