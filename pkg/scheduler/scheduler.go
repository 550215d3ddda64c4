// Package scheduler runs background tasks on a fixed delay.
//
// Fixed delay means the next run starts one period after the previous run
// finished, so a slow run never overlaps the next one.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/idxcache/internal/logger"
)

// Task is a unit of periodic background work. The context is cancelled when
// the owning Handle is cancelled.
type Task func(ctx context.Context)

// Handle controls a scheduled task.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ScheduleWithFixedDelay starts task in a background goroutine. The first run
// happens after initialDelay; each subsequent run starts period after the
// previous one returned.
func ScheduleWithFixedDelay(name string, task Task, initialDelay, period time.Duration) *Handle {
	if period <= 0 {
		panic("scheduler: period must be positive")
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go h.loop(ctx, task, initialDelay, period)

	logger.Debug("Scheduled %s: initial_delay=%s period=%s", name, initialDelay, period)
	return h
}

func (h *Handle) loop(ctx context.Context, task Task, initialDelay, period time.Duration) {
	defer close(h.done)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		h.run(ctx, task)
		timer.Reset(period)
	}
}

// run executes one iteration, keeping the loop alive if the task panics.
func (h *Handle) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Scheduled task %s panicked: %v", h.name, r)
		}
	}()
	task(ctx)
}

// Cancel stops future runs, cancels the context of a run in progress and
// waits for it to return. Safe to call multiple times.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		logger.Debug("Cancelled %s", h.name)
	})
}

// Done is closed once the task loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
