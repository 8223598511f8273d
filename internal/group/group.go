package group

import (
	"context"
	"errors"

	"github.com/gxo-labs/livecache/internal/broadcast"
	"github.com/gxo-labs/livecache/internal/cache"
	"github.com/gxo-labs/livecache/internal/config"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// Group partitions the items of source by groupKey into a cache keyed by
// group. A group appears with its first member, is updated with a fresh
// snapshot whenever its membership or a member value changes, and is removed
// when its last member leaves. The result completes when source completes
// and is torn down with a writer fault when source fails or groupKey panics.
// Disposing the result closes source.
func Group[K comparable, V any, GK comparable](source stream.Stream[changeset.ChangeSet[K, V]], groupKey func(V) GK, opts ...v1.CacheOption) (*cache.Cache[GK, *changeset.Grouping[V, K, GK]], error) {
	if source == nil {
		return nil, lcerrors.NewValidationError("group source stream cannot be nil", nil)
	}
	if groupKey == nil {
		return nil, lcerrors.NewValidationError("group key selector cannot be nil", nil)
	}
	// Groupings are immutable, so readers can share them.
	opts = append(opts, v1.WithAccessMode(config.StateAccessUnsafeDirectReference))
	dest, err := cache.New[GK, *changeset.Grouping[V, K, GK]](nil, opts...)
	if err != nil {
		return nil, err
	}

	g := &grouper[K, V, GK]{
		dest:     dest,
		index:    NewIndex[K, V, GK](),
		groupKey: groupKey,
	}
	broadcast.Unbound(source)
	ctx, cancel := context.WithCancel(context.Background())
	dest.OnDispose(cancel)
	go g.run(ctx, source)
	return dest, nil
}

type grouper[K comparable, V any, GK comparable] struct {
	dest     *cache.Cache[GK, *changeset.Grouping[V, K, GK]]
	index    *Index[K, V, GK]
	groupKey func(V) GK
}

func (g *grouper[K, V, GK]) run(ctx context.Context, source stream.Stream[changeset.ChangeSet[K, V]]) {
	defer source.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case changes, ok := <-source.C():
			if !ok {
				if err := source.Err(); err != nil && !errors.Is(err, lcerrors.ErrSubscriptionClosed) {
					g.dest.Fail(err)
					return
				}
				g.dest.Seal()
				return
			}
			out, err := g.derive(changes)
			if err == nil {
				err = g.dest.Apply(ctx, out)
			}
			if err != nil {
				g.dest.Fail(err)
				return
			}
		}
	}
}

// derive turns one upstream change-set into the group changes it causes.
func (g *grouper[K, V, GK]) derive(changes changeset.ChangeSet[K, V]) (out changeset.ChangeSet[GK, *changeset.Grouping[V, K, GK]], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()

	touched := NewTouched[GK]()
	g.index.Apply(changes, g.groupKey, touched)

	out = make(changeset.ChangeSet[GK, *changeset.Grouping[V, K, GK]], 0, touched.Len())
	touched.Each(func(gk GK, refreshOnly bool) {
		snapshot, ok := g.index.Snapshot(gk)
		switch {
		case !ok:
			out = append(out, changeset.NewRemove(gk, snapshot))
		case refreshOnly:
			out = append(out, changeset.NewRefresh(gk, snapshot))
		default:
			out = append(out, changeset.NewAdd(gk, snapshot))
		}
	})
	return out, nil
}
