// Package store implements the authoritative keyed map behind every cache and
// the diff engine that turns a batch of mutation intents into a change-set.
package store

import (
	"fmt"
	"sync"

	"github.com/gxo-labs/livecache/internal/config"
	"github.com/gxo-labs/livecache/internal/util"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
)

// KeySelector derives an item's key from its value.
type KeySelector[K comparable, V any] func(V) K

// Options configures a ReaderWriter.
type Options[K comparable, V any] struct {
	// KeySelector is required by MutationAddOrUpdateItem. Optional otherwise.
	KeySelector KeySelector[K, V]
	// AccessMode controls whether readers receive clones of stored values.
	// Empty means config.StateAccessDeepCopy.
	AccessMode config.StateAccessMode
	// Capacity pre-sizes the underlying map.
	Capacity int
}

// ReaderWriter is the keyed store. Writes are serialized and applied as a
// unit; readers observe either the state before a write or after it, never a
// partially applied batch. Values handed to readers are cloned unless the
// access mode is unsafe_direct_reference.
type ReaderWriter[K comparable, V any] struct {
	mu          sync.RWMutex
	data        *arena[K, V]
	keySelector KeySelector[K, V]
	deepCopy    bool
	closed      bool
}

// New creates an empty ReaderWriter.
func New[K comparable, V any](opts Options[K, V]) *ReaderWriter[K, V] {
	return &ReaderWriter[K, V]{
		data:        newArena[K, V](opts.Capacity),
		keySelector: opts.KeySelector,
		deepCopy:    opts.AccessMode != config.StateAccessUnsafeDirectReference,
	}
}

// Write validates the batch, then applies each mutation in order and returns
// one change per effective transition. An invalid batch returns an
// *errors.InvalidMutationError and leaves the store untouched.
func (rw *ReaderWriter[K, V]) Write(mutations []changeset.Mutation[K, V]) (changeset.ChangeSet[K, V], error) {
	if mutations == nil {
		return nil, lcerrors.NewInvalidMutationError(-1, "mutation batch is nil", nil)
	}
	keys, err := rw.resolveKeys(mutations)
	if err != nil {
		return nil, err
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.closed {
		return nil, lcerrors.ErrCacheDisposed
	}

	changes := make(changeset.ChangeSet[K, V], 0, len(mutations))
	for i, m := range mutations {
		switch m.Kind {
		case changeset.MutationAddOrUpdate, changeset.MutationAddOrUpdateItem:
			changes = rw.addOrUpdate(changes, keys[i], m.Value)
		case changeset.MutationRemove:
			changes = rw.remove(changes, m.Key)
		case changeset.MutationRefresh:
			changes = rw.refresh(changes, m.Key)
		case changeset.MutationClear:
			changes = rw.clear(changes)
		case changeset.MutationReplace:
			changes = rw.replace(changes, m.Items)
		}
	}
	return changes, nil
}

// resolveKeys validates every mutation and derives the keys of item
// mutations up front, so a failing key selector cannot leave a half-applied batch.
func (rw *ReaderWriter[K, V]) resolveKeys(mutations []changeset.Mutation[K, V]) ([]K, error) {
	keys := make([]K, len(mutations))
	for i, m := range mutations {
		switch m.Kind {
		case changeset.MutationAddOrUpdate, changeset.MutationRemove, changeset.MutationRefresh:
			keys[i] = m.Key
		case changeset.MutationAddOrUpdateItem:
			if rw.keySelector == nil {
				return nil, lcerrors.NewInvalidMutationError(i, "add-or-update by item requires a key selector", nil)
			}
			key, err := rw.selectKey(m.Value)
			if err != nil {
				return nil, lcerrors.NewInvalidMutationError(i, "key selector failed", err)
			}
			keys[i] = key
		case changeset.MutationClear, changeset.MutationReplace:
		default:
			return nil, lcerrors.NewInvalidMutationError(i, fmt.Sprintf("unknown mutation kind %d", m.Kind), nil)
		}
	}
	return keys, nil
}

func (rw *ReaderWriter[K, V]) selectKey(v V) (key K, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()
	return rw.keySelector(v), nil
}

func (rw *ReaderWriter[K, V]) addOrUpdate(changes changeset.ChangeSet[K, V], key K, value V) changeset.ChangeSet[K, V] {
	if prev, existed := rw.data.set(key, value); existed {
		return append(changes, changeset.NewUpdate(key, value, prev))
	}
	return append(changes, changeset.NewAdd(key, value))
}

func (rw *ReaderWriter[K, V]) remove(changes changeset.ChangeSet[K, V], key K) changeset.ChangeSet[K, V] {
	if removed, ok := rw.data.remove(key); ok {
		return append(changes, changeset.NewRemove(key, removed))
	}
	return changes
}

func (rw *ReaderWriter[K, V]) refresh(changes changeset.ChangeSet[K, V], key K) changeset.ChangeSet[K, V] {
	if current, ok := rw.data.get(key); ok {
		return append(changes, changeset.NewRefresh(key, current))
	}
	return changes
}

func (rw *ReaderWriter[K, V]) clear(changes changeset.ChangeSet[K, V]) changeset.ChangeSet[K, V] {
	rw.data.each(func(k K, v V) bool {
		changes = append(changes, changeset.NewRemove(k, v))
		return true
	})
	rw.data.reset()
	return changes
}

func (rw *ReaderWriter[K, V]) replace(changes changeset.ChangeSet[K, V], items []changeset.KeyValue[K, V]) changeset.ChangeSet[K, V] {
	incoming := make(map[K]struct{}, len(items))
	for _, kv := range items {
		incoming[kv.Key] = struct{}{}
	}
	var stale []K
	rw.data.each(func(k K, _ V) bool {
		if _, keep := incoming[k]; !keep {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		changes = rw.remove(changes, k)
	}
	for _, kv := range items {
		changes = rw.addOrUpdate(changes, kv.Key, kv.Value)
	}
	return changes
}

// Apply clones an upstream change-set into the store. Reasons are re-derived
// from local state: an upstream Add for a present key becomes an Update, and
// Remove, Refresh or Moved for an absent key are dropped. A Refresh stores the
// upstream value without turning into an Update, so operators can re-evaluate
// a derived value and still report it as a refresh.
func (rw *ReaderWriter[K, V]) Apply(upstream changeset.ChangeSet[K, V]) (changeset.ChangeSet[K, V], error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.closed {
		return nil, lcerrors.ErrCacheDisposed
	}

	changes := make(changeset.ChangeSet[K, V], 0, len(upstream))
	for _, c := range upstream {
		switch c.Reason {
		case changeset.Add, changeset.Update:
			changes = rw.addOrUpdate(changes, c.Key, c.Current)
		case changeset.Remove:
			changes = rw.remove(changes, c.Key)
		case changeset.Refresh:
			if _, ok := rw.data.get(c.Key); ok {
				rw.data.set(c.Key, c.Current)
				changes = append(changes, changeset.NewRefresh(c.Key, c.Current))
			}
		case changeset.Moved:
			if current, ok := rw.data.get(c.Key); ok {
				changes = append(changes, changeset.NewMoved(c.Key, current))
			}
		default:
			return nil, fmt.Errorf("unknown change reason %v for key %v", c.Reason, c.Key)
		}
	}
	return changes, nil
}

// Lookup returns the value stored under key.
func (rw *ReaderWriter[K, V]) Lookup(key K) changeset.Optional[V] {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	if v, ok := rw.data.get(key); ok {
		return changeset.Some(rw.out(v))
	}
	return changeset.None[V]()
}

// Keys returns the current keys in insertion order.
func (rw *ReaderWriter[K, V]) Keys() []K {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	keys := make([]K, 0, rw.data.len())
	rw.data.each(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Items returns the current values in insertion order.
func (rw *ReaderWriter[K, V]) Items() []V {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	items := make([]V, 0, rw.data.len())
	rw.data.each(func(_ K, v V) bool {
		items = append(items, rw.out(v))
		return true
	})
	return items
}

// KeyValues returns the current entries in insertion order.
func (rw *ReaderWriter[K, V]) KeyValues() []changeset.KeyValue[K, V] {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	kvs := make([]changeset.KeyValue[K, V], 0, rw.data.len())
	rw.data.each(func(k K, v V) bool {
		kvs = append(kvs, changeset.KeyValue[K, V]{Key: k, Value: rw.out(v)})
		return true
	})
	return kvs
}

// Count returns the number of entries.
func (rw *ReaderWriter[K, V]) Count() int {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.data.len()
}

// Snapshot returns the current state framed as Add changes in insertion
// order. When filter is non-nil only matching values are included.
func (rw *ReaderWriter[K, V]) Snapshot(filter func(V) bool) changeset.ChangeSet[K, V] {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	changes := make(changeset.ChangeSet[K, V], 0, rw.data.len())
	rw.data.each(func(k K, v V) bool {
		if filter == nil || filter(v) {
			changes = append(changes, changeset.NewAdd(k, rw.out(v)))
		}
		return true
	})
	return changes
}

// Close drops all entries. Readers see an empty store afterwards and writes
// fail with errors.ErrCacheDisposed.
func (rw *ReaderWriter[K, V]) Close() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.closed = true
	rw.data.reset()
}

func (rw *ReaderWriter[K, V]) out(v V) V {
	if rw.deepCopy {
		return util.Clone(v)
	}
	return v
}
