// Package fs implements a local-disk FileStore.
//
// Files are stored flat under a base directory using their plain names. New
// files are written to a uniquely named temporary file and renamed into place
// on Close, so a partially written file is never visible under its final name.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/idxcache/pkg/store"
)

const (
	tempPrefix = ".idxcache-"
	tempSuffix = ".tmp"
)

// FSFileStore implements store.FileStore on the local filesystem.
//
// Thread Safety:
// Each write handle owns a private temporary file, and publication is a
// single rename, so concurrent writers of the same name never corrupt each
// other: the last Close wins. Readers keep the inode they opened.
type FSFileStore struct {
	basePath string
}

var _ store.FileStore = (*FSFileStore)(nil)

// NewFSFileStore creates a filesystem store rooted at basePath.
//
// The base directory is created with permissions 0755 if it doesn't exist.
//
// Parameters:
//   - ctx: Context for cancellation
//   - basePath: Root directory holding the files
//
// Returns:
//   - *FSFileStore: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func NewFSFileStore(ctx context.Context, basePath string) (*FSFileStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSFileStore{basePath: basePath}, nil
}

// BasePath returns the directory this store writes to.
func (s *FSFileStore) BasePath() string {
	return s.basePath
}

func (s *FSFileStore) path(name string) (string, error) {
	if err := store.ValidateName(name); err != nil {
		return "", fmt.Errorf("%q: %w", name, err)
	}
	return filepath.Join(s.basePath, name), nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// ============================================================================
// Read Operations
// ============================================================================

// Exists reports whether name is present as a regular file.
func (s *FSFileStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p, err := s.path(name)
	if err != nil {
		return false, nil
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, store.IOError("stat", name, err)
	}

	return info.Mode().IsRegular(), nil
}

// Length returns the file size in bytes.
func (s *FSFileStore) Length(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := s.path(name)
	if err != nil {
		return 0, store.NotFound(name)
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, store.NotFound(name)
		}
		return 0, store.IOError("stat", name, err)
	}

	return info.Size(), nil
}

// List returns the names of all regular files, excluding in-progress writes.
func (s *FSFileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, store.IOError("list", s.basePath, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || isTemp(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}

	return names, nil
}

// OpenRead opens name for random access reads.
func (s *FSFileStore) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.path(name)
	if err != nil {
		return nil, store.NotFound(name)
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.NotFound(name)
		}
		return nil, store.IOError("open", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, store.IOError("stat", name, err)
	}

	return &readHandle{name: name, file: f, length: info.Size()}, nil
}

// ============================================================================
// Write Operations
// ============================================================================

// OpenWrite creates a temporary file that is renamed to name on Close.
func (s *FSFileStore) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final, err := s.path(name)
	if err != nil {
		return nil, err
	}

	tmp := filepath.Join(s.basePath, tempPrefix+uuid.NewString()+tempSuffix)
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, store.IOError("create", name, err)
	}

	return &writeHandle{name: name, file: f, tmpPath: tmp, finalPath: final}, nil
}

// Delete removes name. Deleting a missing name succeeds.
func (s *FSFileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.path(name)
	if err != nil {
		return nil
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return store.IOError("delete", name, err)
	}

	return nil
}

// Rename atomically moves from to to, replacing any existing file at to.
func (s *FSFileStore) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.path(from)
	if err != nil {
		return store.NotFound(from)
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}

	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.NotFound(from)
		}
		return store.IOError("rename", from, err)
	}

	return nil
}

// Touch sets the modification time of name to now.
func (s *FSFileStore) Touch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.path(name)
	if err != nil {
		return store.NotFound(name)
	}

	now := time.Now()
	if err := os.Chtimes(p, now, now); err != nil {
		if os.IsNotExist(err) {
			return store.NotFound(name)
		}
		return store.IOError("touch", name, err)
	}

	return nil
}

// Close removes leftover temporary files. The directory and its published
// files are left in place.
func (s *FSFileStore) Close() error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return store.IOError("close", s.basePath, err)
	}

	for _, e := range entries {
		if isTemp(e.Name()) {
			_ = os.Remove(filepath.Join(s.basePath, e.Name()))
		}
	}

	return nil
}
