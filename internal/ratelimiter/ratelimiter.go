package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle limits a byte stream to a sustained rate using the token bucket
// algorithm, one token per byte.
//
// This implementation wraps golang.org/x/time/rate to provide:
//   - Sustained bytes-per-second limiting with a bounded burst
//   - Context-aware waiting (respects cancellation)
//   - Requests larger than the burst, split into burst-sized waits
//
// A nil *Throttle is valid and never waits, so callers can keep one field
// for "limited" and "unlimited" alike.
//
// Thread safety:
// All methods are safe for concurrent use. Concurrent streams share the
// budget.
type Throttle struct {
	limiter *rate.Limiter
}

// New creates a Throttle allowing bytesPerSecond sustained and up to burst
// bytes at once.
//
// Special cases:
//   - bytesPerSecond <= 0: no limit, New returns nil
//   - burst <= 0: burst defaults to one second worth of bytes
//
// Example:
//
//	// 50 MiB/s, 1 MiB bursts
//	t := New(50<<20, 1<<20)
func New(bytesPerSecond int64, burst int) *Throttle {
	if bytesPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(min(bytesPerSecond, int64(^uint32(0)>>1)))
	}

	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Wait blocks until n bytes may pass or ctx is cancelled.
//
// Returns:
//   - nil once the bytes were admitted
//   - the context error if ctx was cancelled first
func (t *Throttle) Wait(ctx context.Context, n int) error {
	if t == nil {
		return ctx.Err()
	}

	burst := t.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := t.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Limit returns the sustained rate in bytes per second (0 when unlimited).
func (t *Throttle) Limit() int64 {
	if t == nil {
		return 0
	}
	return int64(t.limiter.Limit())
}

// Burst returns the largest number of bytes admitted at once.
func (t *Throttle) Burst() int {
	if t == nil {
		return 0
	}
	return t.limiter.Burst()
}
