package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/idxcache/pkg/cache/blockcache"
)

var (
	// ErrUnsupportedConnection is returned for a connection string whose
	// scheme is not recognized.
	ErrUnsupportedConnection = errors.New("unsupported cache connection")

	// ErrInvalidConnection is returned for a recognized scheme with
	// malformed parameters.
	ErrInvalidConnection = errors.New("invalid cache connection")
)

// ConnectionKind selects the cache strategy and its local medium.
type ConnectionKind int

const (
	// MirrorMemory mirrors the remote store into process memory (mem://).
	MirrorMemory ConnectionKind = iota

	// BlockMemory caches fixed-size blocks of remote files in memory
	// (memory://).
	BlockMemory

	// MirrorDisk mirrors the remote store into a local directory (file://,
	// mmap://, niofs:// or a bare path).
	MirrorDisk

	// MirrorBadger mirrors the remote store into an embedded BadgerDB
	// (badger://).
	MirrorBadger
)

func (k ConnectionKind) String() string {
	switch k {
	case MirrorMemory:
		return "mirror-memory"
	case BlockMemory:
		return "block-memory"
	case MirrorDisk:
		return "mirror-disk"
	case MirrorBadger:
		return "mirror-badger"
	default:
		return "unknown"
	}
}

// Connection is a parsed cache connection string.
type Connection struct {
	Kind ConnectionKind

	// Scheme is the scheme as written, without "://" ("" for a bare path).
	Scheme string

	// Path is the local directory of disk and badger mirrors. Empty means
	// "derive from CacheConfig.BasePath".
	Path string

	// Block cache parameters, only set for BlockMemory.
	BlockSize       int64
	Capacity        int64
	CacheFileNames  bool
	RefreshInterval time.Duration
}

// ParseConnection parses a cache connection string.
//
// Recognized forms:
//   - mem://                       in-memory mirror
//   - memory://k=v&k=v             block cache; keys bucketSize, size,
//     cacheFileNames, refreshInterval (';' also separates pairs)
//   - file://path, mmap://path, niofs://path, or a bare path
//     local-disk mirror
//   - badger://path                BadgerDB mirror
//
// Returns ErrUnsupportedConnection for any other scheme and
// ErrInvalidConnection for malformed block cache parameters.
func ParseConnection(s string) (Connection, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Connection{}, fmt.Errorf("%w: empty connection string", ErrUnsupportedConnection)
	}

	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Connection{Kind: MirrorDisk, Path: s}, nil
	}

	switch strings.ToLower(scheme) {
	case "mem":
		return Connection{Kind: MirrorMemory, Scheme: scheme}, nil
	case "memory":
		return parseBlockParams(scheme, rest)
	case "file", "mmap", "niofs":
		return Connection{Kind: MirrorDisk, Scheme: scheme, Path: rest}, nil
	case "badger":
		return Connection{Kind: MirrorBadger, Scheme: scheme, Path: rest}, nil
	default:
		return Connection{}, fmt.Errorf("%w: %q", ErrUnsupportedConnection, s)
	}
}

func parseBlockParams(scheme, params string) (Connection, error) {
	conn := Connection{
		Kind:            BlockMemory,
		Scheme:          scheme,
		BlockSize:       blockcache.DefaultBlockSize,
		Capacity:        blockcache.DefaultCapacity,
		CacheFileNames:  true,
		RefreshInterval: blockcache.DefaultRefreshInterval,
	}

	pairs := strings.FieldsFunc(params, func(r rune) bool { return r == '&' || r == ';' })
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Connection{}, fmt.Errorf("%w: parameter %q has no value", ErrInvalidConnection, pair)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "bucketSize":
			n, err := parseBytes(value)
			if err != nil || n == 0 {
				return Connection{}, fmt.Errorf("%w: bucketSize=%q", ErrInvalidConnection, value)
			}
			conn.BlockSize = n
		case "size":
			n, err := parseBytes(value)
			if err != nil || n == 0 {
				return Connection{}, fmt.Errorf("%w: size=%q", ErrInvalidConnection, value)
			}
			conn.Capacity = n
		case "cacheFileNames":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Connection{}, fmt.Errorf("%w: cacheFileNames=%q", ErrInvalidConnection, value)
			}
			conn.CacheFileNames = b
		case "refreshInterval":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return Connection{}, fmt.Errorf("%w: refreshInterval=%q", ErrInvalidConnection, value)
			}
			conn.RefreshInterval = d
		default:
			return Connection{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidConnection, key)
		}
	}

	if conn.Capacity < conn.BlockSize {
		return Connection{}, fmt.Errorf("%w: size %d is smaller than bucketSize %d",
			ErrInvalidConnection, conn.Capacity, conn.BlockSize)
	}

	return conn, nil
}

// parseBytes accepts plain byte counts ("4096") and humanized sizes
// ("64MB", "16KiB").
func parseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int64(n), nil
}
