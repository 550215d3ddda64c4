package store

import (
	"path"
	"strings"
)

// NamePredicate classifies file names. Caching layers take two of them at
// construction: one selecting static control files that must always be served
// by the remote store, and one selecting compound bundle files.
type NamePredicate func(name string) bool

// Default control files written by the host engine. They are rewritten in
// place and therefore never cache-eligible.
var DefaultStaticFileNames = []string{"segments.gen", "write.lock", "clear.cache"}

// DefaultCompoundExtensions lists the bundle file extensions of the host engine.
var DefaultCompoundExtensions = []string{"cfs"}

// StaticFiles returns a predicate matching the given exact names and any name
// ending in ".lock".
func StaticFiles(names ...string) NamePredicate {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		if _, ok := set[name]; ok {
			return true
		}
		return strings.HasSuffix(name, ".lock")
	}
}

// Extensions returns a predicate matching names whose extension (without the
// dot) is one of exts.
func Extensions(exts ...string) NamePredicate {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.TrimPrefix(e, ".")] = struct{}{}
	}
	return func(name string) bool {
		ext := strings.TrimPrefix(path.Ext(name), ".")
		if ext == "" {
			return false
		}
		_, ok := set[ext]
		return ok
	}
}

// Never matches nothing.
func Never(string) bool { return false }

// ValidateName rejects names that cannot be stored as a flat file.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}
