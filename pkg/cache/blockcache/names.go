package blockcache

import (
	"context"
	"slices"
	"sync"

	"github.com/marmos91/idxcache/pkg/store"
)

// nameSet caches the file names of the backing store.
//
// It is replaced wholesale by a periodic listing and amended in place when
// this cache itself writes, renames or deletes a file. Changes made by other
// writers of the backing store become visible at the next refresh.
type nameSet struct {
	refreshMu sync.Mutex

	mu    sync.RWMutex
	names map[string]struct{}

	// pending records local changes made while a listing is in flight, so
	// the listing cannot undo them. true = added, false = removed.
	pending map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{names: make(map[string]struct{})}
}

func (s *nameSet) contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

func (s *nameSet) add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = struct{}{}
	if s.pending != nil {
		s.pending[name] = true
	}
}

func (s *nameSet) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
	if s.pending != nil {
		s.pending[name] = false
	}
}

func (s *nameSet) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (s *nameSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// refresh replaces the set with a fresh listing of fs. On failure the
// previous set is kept.
func (s *nameSet) refresh(ctx context.Context, fs store.FileStore) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	s.pending = make(map[string]bool)
	s.mu.Unlock()

	listed, err := fs.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil

	if err != nil {
		return err
	}

	names := make(map[string]struct{}, len(listed))
	for _, n := range listed {
		names[n] = struct{}{}
	}
	for n, added := range pending {
		if added {
			names[n] = struct{}{}
		} else {
			delete(names, n)
		}
	}

	s.names = names
	return nil
}
