package store

import (
	"errors"
	"fmt"
)

// ============================================================================
// Standard File Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all FileStore implementations and caching wrappers.
//
// Usage Pattern:
//
//	h, err := fs.OpenRead(ctx, name)
//	if err != nil {
//	    if errors.Is(err, store.ErrNotFound) {
//	        // the engine treats this as a missing segment
//	    }
//	    return err
//	}
//
// Error Wrapping:
// Implementations wrap these errors with the file name, and storage failures
// carry both ErrIOFailure and the underlying cause:
//
//	return fmt.Errorf("stat %s: %w: %w", name, store.ErrIOFailure, err)

var (
	// ErrNotFound indicates the requested file is absent from the store.
	//
	// Returned by Length, OpenRead and Rename for missing names. Exists and
	// Delete never return it.
	ErrNotFound = errors.New("file not found")

	// ErrIOFailure indicates the underlying storage failed a read, write or
	// list operation. The original cause is wrapped alongside it.
	ErrIOFailure = errors.New("storage I/O failure")

	// ErrInvalidOffset indicates a read or seek offset outside the valid range.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrInvalidName indicates a file name that cannot be stored (empty, or
	// containing path separators).
	ErrInvalidName = errors.New("invalid file name")

	// ErrClosed indicates the store or handle has been closed.
	ErrClosed = errors.New("store is closed")
)

// OpError records a failed cache operation together with the file and index
// it concerned. The cache layers use it on foreground paths so callers can
// diagnose a failed fetch or flush; errors.Is still sees the wrapped cause.
type OpError struct {
	Op    string // "fetch", "flush", "read", ...
	Name  string // file name
	Index string // sub-index identity, may be empty
	Err   error
}

func (e *OpError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Op, e.Name, e.Index, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IOError wraps cause as an ErrIOFailure for the given operation and name.
func IOError(op, name string, cause error) error {
	if name == "" {
		return fmt.Errorf("%s: %w: %w", op, ErrIOFailure, cause)
	}
	return fmt.Errorf("%s %s: %w: %w", op, name, ErrIOFailure, cause)
}

// NotFound wraps ErrNotFound with the missing name.
func NotFound(name string) error {
	return fmt.Errorf("file %s: %w", name, ErrNotFound)
}
