package lockpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, DefaultSize, New(-3).Size())
	assert.Equal(t, 7, New(7).Size())
}

func TestSlot_Deterministic(t *testing.T) {
	p := New(100)
	q := New(100)

	for i := range 1000 {
		name := fmt.Sprintf("_%d.cfs", i)
		slot := p.Slot(name)
		assert.Equal(t, slot, p.Slot(name))
		assert.Equal(t, slot, q.Slot(name), "independent pools agree")
		assert.True(t, slot >= 0 && slot < 100)
	}
}

func TestSlot_Spreads(t *testing.T) {
	p := New(100)

	used := make(map[int]struct{})
	for i := range 1000 {
		used[p.Slot(fmt.Sprintf("_%d.tis", i))] = struct{}{}
	}
	assert.Greater(t, len(used), 50, "names should spread over most slots")
}

func TestFor_SameNameSameLock(t *testing.T) {
	p := New(10)
	assert.Same(t, p.For("segments_1"), p.For("segments_1"))
}

func TestWith_MutualExclusion(t *testing.T) {
	p := New(DefaultSize)

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.With("_0.fdt", func() error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside.Load())
}

func TestWith_PropagatesError(t *testing.T) {
	p := New(1)
	want := fmt.Errorf("boom")

	assert.Equal(t, want, p.With("a", func() error { return want }))

	// Lock was released.
	p.Lock("a")
	p.Unlock("a")
}

func TestLockAll_SharedSlotTakenOnce(t *testing.T) {
	p := New(1)

	// Both names hash to the only slot; locking it twice would deadlock.
	unlock := p.LockAll("_0.cfs", "_1.cfs")
	unlock()

	p.Lock("_0.cfs")
	p.Unlock("_0.cfs")
}

func TestLockAll_OppositeOrdersDoNotDeadlock(t *testing.T) {
	p := New(DefaultSize)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var unlock func()
			if i%2 == 0 {
				unlock = p.LockAll("segments.new", "segments_3")
			} else {
				unlock = p.LockAll("segments_3", "segments.new")
			}
			time.Sleep(100 * time.Microsecond)
			unlock()
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LockAll deadlocked")
	}
}
