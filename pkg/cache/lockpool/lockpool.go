// Package lockpool provides per-name mutual exclusion over a fixed pool of
// mutexes.
//
// A name always maps to the same slot, so two operations on one name always
// serialize. Different names may share a slot; that only costs some
// unnecessary waiting. Memory use is fixed regardless of how many names
// are seen.
package lockpool

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultSize is the number of slots used when none is configured.
const DefaultSize = 100

// Pool is a fixed-size array of mutexes indexed by a hash of the file name.
// The zero value is not usable; use New.
type Pool struct {
	slots []sync.Mutex
}

// New creates a pool with size slots. A non-positive size selects DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{slots: make([]sync.Mutex, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Slot returns the slot index for name.
func (p *Pool) Slot(name string) int {
	return int(xxhash.Sum64String(name) % uint64(len(p.slots)))
}

// For returns the lock guarding name.
func (p *Pool) For(name string) sync.Locker {
	return &p.slots[p.Slot(name)]
}

// Lock acquires the lock guarding name.
func (p *Pool) Lock(name string) {
	p.slots[p.Slot(name)].Lock()
}

// Unlock releases the lock guarding name.
func (p *Pool) Unlock(name string) {
	p.slots[p.Slot(name)].Unlock()
}

// With runs fn while holding the lock guarding name.
func (p *Pool) With(name string, fn func() error) error {
	p.Lock(name)
	defer p.Unlock(name)
	return fn()
}

// LockAll acquires the locks guarding every name and returns a function that
// releases them. Slots are taken once each, in ascending order, so callers
// locking overlapping sets cannot deadlock.
func (p *Pool) LockAll(names ...string) (unlock func()) {
	slots := make([]int, 0, len(names))
	for _, n := range names {
		slots = append(slots, p.Slot(n))
	}
	slices.Sort(slots)
	slots = slices.Compact(slots)

	for _, s := range slots {
		p.slots[s].Lock()
	}
	return func() {
		for i := len(slots) - 1; i >= 0; i-- {
			p.slots[slots[i]].Unlock()
		}
	}
}
