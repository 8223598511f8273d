// Package collection materializes a keyed change-set stream into plain
// slices.
package collection

import (
	"context"
	"errors"
	"slices"

	"github.com/gxo-labs/livecache/internal/broadcast"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// Options controls ToList. The zero value keeps every item in arrival order.
type Options[V any] struct {
	// Filter keeps only the items it returns true for. It is re-evaluated on
	// every add, update and refresh.
	Filter func(V) bool
	// Comparer sorts each list. Items that compare equal keep arrival order.
	Comparer func(a, b V) int
	// BufferSize bounds the queue of lists not yet received. Zero means the
	// default subscriber buffer size.
	BufferSize int
}

// ToList folds source into a list and emits the whole list after every
// change-set. Each emitted slice is owned by the receiver. The result
// completes or fails with source; a filter or comparer panic fails it with
// a subscriber fault. Closing the result closes source.
func ToList[K comparable, V any](source stream.Stream[changeset.ChangeSet[K, V]], opts Options[V]) (stream.Stream[[]V], error) {
	if source == nil {
		return nil, lcerrors.NewValidationError("list source stream cannot be nil", nil)
	}
	policy := broadcast.DefaultPolicy()
	if opts.BufferSize > 0 {
		policy.BufferSize = opts.BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := broadcast.NewHub[[]V](func(string, error) { cancel() })
	out := broadcast.NewSubscription[[]V](policy)
	broadcast.Attach(hub, out, broadcast.Identity[[]V])

	broadcast.Unbound(source)
	l := &list[K, V]{opts: opts, values: make(map[K]V)}
	go l.run(ctx, source, hub, out.ID())
	return out, nil
}

type list[K comparable, V any] struct {
	opts   Options[V]
	order  []K
	values map[K]V
}

func (l *list[K, V]) run(ctx context.Context, source stream.Stream[changeset.ChangeSet[K, V]], hub *broadcast.Hub[[]V], id string) {
	defer source.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case changes, ok := <-source.C():
			if !ok {
				if err := source.Err(); err != nil && !errors.Is(err, lcerrors.ErrSubscriptionClosed) {
					hub.Fail(err)
					return
				}
				hub.Complete()
				return
			}
			items, err := l.fold(changes)
			if err != nil {
				hub.Fail(lcerrors.NewSubscriberFaultError(id, err))
				return
			}
			hub.Publish(items)
		}
	}
}

func (l *list[K, V]) fold(changes changeset.ChangeSet[K, V]) (items []V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()

	for _, c := range changes {
		switch c.Reason {
		case changeset.Add, changeset.Update, changeset.Refresh:
			if l.opts.Filter != nil && !l.opts.Filter(c.Current) {
				l.remove(c.Key)
				continue
			}
			if _, ok := l.values[c.Key]; !ok {
				l.order = append(l.order, c.Key)
			}
			l.values[c.Key] = c.Current
		case changeset.Remove:
			l.remove(c.Key)
		}
	}

	items = make([]V, len(l.order))
	for i, k := range l.order {
		items[i] = l.values[k]
	}
	if l.opts.Comparer != nil {
		slices.SortStableFunc(items, l.opts.Comparer)
	}
	return items, nil
}

func (l *list[K, V]) remove(key K) {
	if _, ok := l.values[key]; !ok {
		return
	}
	delete(l.values, key)
	if i := slices.Index(l.order, key); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}
}
