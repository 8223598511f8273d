// Package livecache is the entry point for building observable keyed caches
// and the operators derived from them.
//
//	orders, _ := livecache.New(func(o Order) string { return o.ID }, v1.WithName("orders"))
//	changes, _ := orders.Connect()
//	_ = orders.AddOrUpdateItems(Order{ID: "a", Amount: 10})
//	first := <-changes.C() // [Add(a: {a 10})]
//
// Interfaces, options and the change-set model live in pkg/livecache/v1.
package livecache

import (
	"github.com/gxo-labs/livecache/internal/cache"
	"github.com/gxo-labs/livecache/internal/collection"
	"github.com/gxo-labs/livecache/internal/group"
	"github.com/gxo-labs/livecache/internal/join"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// ListOptions controls ToList.
type ListOptions[V any] collection.Options[V]

// New creates an empty writable cache. keySelector derives keys for
// AddOrUpdateItems and may be nil when only keyed writes are used.
func New[K comparable, V any](keySelector func(V) K, opts ...v1.CacheOption) (v1.SourceCache[K, V], error) {
	c, err := cache.New[K, V](keySelector, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromSource creates a read-only cache mirroring source. The cache is
// sealed when source completes and torn down when source fails.
func NewFromSource[K comparable, V any](source stream.Stream[changeset.ChangeSet[K, V]], opts ...v1.CacheOption) (v1.ObservableCache[K, V], error) {
	c, err := cache.NewFromSource[K, V](source, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Group partitions source by groupKey. Each entry of the result is an
// immutable snapshot of one group; empty groups are removed.
func Group[K comparable, V any, GK comparable](source stream.Stream[changeset.ChangeSet[K, V]], groupKey func(V) GK, opts ...v1.CacheOption) (v1.ObservableCache[GK, *changeset.Grouping[V, K, GK]], error) {
	c, err := group.Group[K, V, GK](source, groupKey, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ToList folds source into a list, emitted in full after every change-set.
func ToList[K comparable, V any](source stream.Stream[changeset.ChangeSet[K, V]], opts ListOptions[V]) (stream.Stream[[]V], error) {
	return collection.ToList[K, V](source, collection.Options[V](opts))
}

// InnerJoin joins left and right on rightKey, keeping keys present on both
// sides. The most recently written right item wins when several map to one
// left key.
func InnerJoin[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left L, right R) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.InnerJoin[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LeftJoin joins left and right on rightKey, keeping every left key.
func LeftJoin[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left L, right changeset.Optional[R]) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.LeftJoin[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RightJoin joins left and right on rightKey, keeping every key a right item
// maps to.
func RightJoin[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left changeset.Optional[L], right R) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.RightJoin[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FullJoin joins left and right on rightKey, keeping keys present on either
// side.
func FullJoin[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left changeset.Optional[L], right changeset.Optional[R]) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.FullJoin[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// InnerJoinMany joins each left value with the group of right items mapping
// to its key, keeping keys with a left value and a non-empty group.
func InnerJoinMany[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left L, group *changeset.Grouping[R, RK, LK]) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.InnerJoinMany[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LeftJoinMany is InnerJoinMany keeping every left key, with an empty group
// when nothing maps to it.
func LeftJoinMany[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left L, group *changeset.Grouping[R, RK, LK]) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.LeftJoinMany[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RightJoinMany is InnerJoinMany keeping every non-empty group, with an
// absent left value when the left side lacks the key.
func RightJoinMany[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left changeset.Optional[L], group *changeset.Grouping[R, RK, LK]) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.RightJoinMany[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FullJoinMany is InnerJoinMany keeping keys present on either side.
func FullJoinMany[LK comparable, L any, RK comparable, R any, D any](left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]], rightKey func(R) LK, result func(key LK, left changeset.Optional[L], group *changeset.Grouping[R, RK, LK]) D, opts ...v1.CacheOption) (v1.ObservableCache[LK, D], error) {
	c, err := join.FullJoinMany[LK, L, RK, R, D](left, right, rightKey, result, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}
