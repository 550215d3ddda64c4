package blockcache

import (
	"sync"
	"sync/atomic"
)

// blockKey identifies a block by file name and block-aligned offset.
type blockKey struct {
	name   string
	offset int64
}

type block struct {
	key        blockKey
	data       []byte
	referenced atomic.Bool
}

// clock is a fixed-capacity block map with second-chance eviction.
//
// Lookups go through a sync.Map and only set the referenced bit, so hits
// never take a lock. Inserts and removals share one mutex guarding the ring.
// Free slots are filled first; only a full ring evicts. The hand then sweeps
// the ring clearing referenced bits and evicts the first block whose bit is
// already clear.
type clock struct {
	lookup sync.Map // blockKey -> *block

	mu    sync.Mutex
	ring  []*block
	free  []int // empty ring slots, popped from the end
	hand  int
	count int
}

func newClock(capacity int) *clock {
	if capacity < 1 {
		capacity = 1
	}
	c := &clock{ring: make([]*block, capacity)}
	c.resetFree()
	return c
}

func (c *clock) resetFree() {
	c.free = c.free[:0]
	for i := len(c.ring) - 1; i >= 0; i-- {
		c.free = append(c.free, i)
	}
}

func (c *clock) get(key blockKey) ([]byte, bool) {
	v, ok := c.lookup.Load(key)
	if !ok {
		return nil, false
	}
	b := v.(*block)
	b.referenced.Store(true)
	return b.data, true
}

// put inserts data under key and returns the number of blocks evicted to
// make room. Inserting an existing key is a no-op.
func (c *clock) put(key blockKey, data []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup.Load(key); ok {
		return 0
	}

	b := &block{key: key, data: data}

	if n := len(c.free); n > 0 {
		slot := c.free[n-1]
		c.free = c.free[:n-1]
		c.ring[slot] = b
		c.lookup.Store(key, b)
		c.count++
		return 0
	}

	for {
		cur := c.ring[c.hand]
		if cur.referenced.CompareAndSwap(true, false) {
			c.advance()
			continue
		}
		c.lookup.Delete(cur.key)
		break
	}

	c.ring[c.hand] = b
	c.lookup.Store(key, b)
	c.advance()

	return 1
}

func (c *clock) advance() {
	c.hand++
	if c.hand == len(c.ring) {
		c.hand = 0
	}
}

// removeFile drops every block of name and returns how many were dropped.
func (c *clock) removeFile(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for i, b := range c.ring {
		if b != nil && b.key.name == name {
			c.lookup.Delete(b.key)
			c.ring[i] = nil
			c.free = append(c.free, i)
			c.count--
			removed++
		}
	}
	return removed
}

// clear drops every block and returns how many were dropped.
func (c *clock) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.count
	for i, b := range c.ring {
		if b != nil {
			c.lookup.Delete(b.key)
			c.ring[i] = nil
		}
	}
	c.count = 0
	c.hand = 0
	c.resetFree()
	return removed
}

func (c *clock) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *clock) capacity() int {
	return len(c.ring)
}
