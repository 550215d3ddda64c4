package mirror

import (
	"context"

	"github.com/marmos91/idxcache/internal/ratelimiter"
	"github.com/marmos91/idxcache/pkg/store"
)

// throttle returns remote with reads limited to bytesPerSecond, or remote
// itself when there is no limit. The burst is one copy chunk, so a fetch
// never stalls mid-chunk.
func throttle(remote store.FileStore, bytesPerSecond int64, chunkSize int) store.FileStore {
	t := ratelimiter.New(bytesPerSecond, chunkSize)
	if t == nil {
		return remote
	}
	return &throttledStore{FileStore: remote, throttle: t}
}

type throttledStore struct {
	store.FileStore
	throttle *ratelimiter.Throttle
}

func (s *throttledStore) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	h, err := s.FileStore.OpenRead(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledReader{ReadHandle: h, ctx: ctx, throttle: s.throttle}, nil
}

type throttledReader struct {
	store.ReadHandle
	ctx      context.Context
	throttle *ratelimiter.Throttle
}

func (r *throttledReader) ReadAt(p []byte, off int64) (int, error) {
	if err := r.throttle.Wait(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.ReadHandle.ReadAt(p, off)
}
