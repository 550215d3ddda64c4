package store

import (
	"context"
	"io"
)

// ============================================================================
// FileStore Interface
// ============================================================================

// FileStore is a named collection of byte blobs ("files") backing one index
// namespace (a sub-index of the search engine).
//
// Files are written once and then only read. The host engine never rewrites
// a segment file in place; the only exceptions are "static" control files
// (generation pointers, lock files) which are rewritten repeatedly and which
// caching layers must never shadow (see NamePredicate).
//
// Implementations:
//   - memory: map-backed, used as an in-memory local mirror and in tests
//   - fs: one regular file per name under a base directory
//   - badger: chunked values in an embedded BadgerDB
//   - s3: one object per name under a key prefix (typical remote store)
//   - mirror / blockcache: caching wrappers that are themselves FileStores
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent writers to the same name are undefined; the host engine never
// does that.
type FileStore interface {
	// Exists reports whether name is present. A missing file is (false, nil);
	// errors are reserved for storage failures.
	Exists(ctx context.Context, name string) (bool, error)

	// Length returns the size of name in bytes, or ErrNotFound.
	Length(ctx context.Context, name string) (int64, error)

	// List returns the names currently present, in no particular order.
	List(ctx context.Context) ([]string, error)

	// OpenRead opens name for random-access reads, or returns ErrNotFound.
	// The caller must Close the handle.
	OpenRead(ctx context.Context, name string) (ReadHandle, error)

	// OpenWrite creates (or truncates) name for sequential writing. The file
	// becomes visible to readers atomically when the handle is closed.
	OpenWrite(ctx context.Context, name string) (WriteHandle, error)

	// Delete removes name. Deleting a missing file is not an error.
	Delete(ctx context.Context, name string) error

	// Rename atomically renames from to to, replacing any existing to.
	Rename(ctx context.Context, from, to string) error

	// Touch updates the modification marker of name without changing content.
	Touch(ctx context.Context, name string) error

	// Close releases the store. Further calls fail with ErrClosed.
	Close() error
}

// ReadHandle provides random-access reads over one file.
//
// ReadAt follows io.ReaderAt semantics: a short read at end of file returns
// the bytes read together with io.EOF.
type ReadHandle interface {
	io.ReaderAt
	io.Closer

	// Name returns the file name the handle was opened for.
	Name() string

	// Length returns the file size at open time.
	Length() int64
}

// WriteHandle writes one file sequentially.
//
// Seek may only move within the already-written extent ([0, Length()]);
// the host engine uses it to patch headers after writing a segment.
type WriteHandle interface {
	io.Writer
	io.Closer

	// Name returns the file name the handle was opened for.
	Name() string

	// Seek moves the write position. Offsets past Length() fail with
	// ErrInvalidOffset.
	Seek(offset int64) error

	// Position returns the current write position.
	Position() int64

	// Length returns the number of bytes written so far (the high-water mark).
	Length() int64

	// Abort discards everything written and releases the handle without
	// publishing the file. An existing file of the same name is left
	// untouched. Abort after Close (or a second Abort) is a no-op.
	Abort() error
}
