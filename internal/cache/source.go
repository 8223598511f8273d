package cache

import (
	"context"
	"errors"

	"github.com/gxo-labs/livecache/internal/broadcast"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// NewFromSource creates a cache that mirrors an upstream change-set stream.
// Every upstream change-set is applied as one write. When the upstream
// completes, subscribers complete and the cache is sealed: it stays readable
// and edits fail with errors.ErrCacheSealed. An upstream error tears the
// cache down with a writer fault. Disposing the cache closes the upstream.
func NewFromSource[K comparable, V any](source stream.Stream[changeset.ChangeSet[K, V]], opts ...v1.CacheOption) (*Cache[K, V], error) {
	if source == nil {
		return nil, lcerrors.NewValidationError("source stream cannot be nil", nil)
	}
	c, err := New[K, V](nil, opts...)
	if err != nil {
		return nil, err
	}

	broadcast.Unbound(source)
	ctx, cancel := context.WithCancel(context.Background())
	c.OnDispose(cancel)
	go c.follow(ctx, source)
	return c, nil
}

func (c *Cache[K, V]) follow(ctx context.Context, source stream.Stream[changeset.ChangeSet[K, V]]) {
	defer source.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case changes, ok := <-source.C():
			if !ok {
				if err := source.Err(); err != nil && !errors.Is(err, lcerrors.ErrSubscriptionClosed) {
					c.log.Warnf("Source stream failed: %v", err)
					c.Fail(err)
					return
				}
				c.Seal()
				return
			}
			if err := c.Apply(ctx, changes); err != nil {
				// No-op when the write already faulted or the cache is disposed.
				c.Fail(err)
				return
			}
		}
	}
}
