package join

import (
	"github.com/gxo-labs/livecache/internal/cache"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// InnerJoin emits a result for every left key that has both a left value and
// at least one right item. When several right items map to the same key the
// most recently written one is used.
func InnerJoin[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left L, right R) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Inner,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left.Value(), s.Right.Value())
		},
	}, opts...)
}

// LeftJoin emits a result for every left key; the right value is absent when
// no right item maps to the key.
func LeftJoin[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left L, right changeset.Optional[R]) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Left,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left.Value(), s.Right)
		},
	}, opts...)
}

// RightJoin emits a result for every key at least one right item maps to;
// the left value is absent when the left side has no such key.
func RightJoin[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left changeset.Optional[L], right R) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Right,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left, s.Right.Value())
		},
	}, opts...)
}

// FullJoin emits a result for every key present on either side.
func FullJoin[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left changeset.Optional[L], right changeset.Optional[R]) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Full,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left, s.Right)
		},
	}, opts...)
}

// InnerJoinMany emits a result with the group of matching right items for
// every left key that has a left value and a non-empty group.
func InnerJoinMany[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left L, group *changeset.Grouping[R, RK, LK]) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Inner,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left.Value(), s.Group)
		},
	}, opts...)
}

// LeftJoinMany emits a result for every left key, with an empty group when
// no right item maps to it.
func LeftJoinMany[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left L, group *changeset.Grouping[R, RK, LK]) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Left,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left.Value(), s.Group)
		},
	}, opts...)
}

// RightJoinMany emits a result for every non-empty group of right items; the
// left value is absent when the left side has no such key.
func RightJoinMany[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left changeset.Optional[L], group *changeset.Grouping[R, RK, LK]) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Right,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left, s.Group)
		},
	}, opts...)
}

// FullJoinMany emits a result for every key present on either side.
func FullJoinMany[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]],
	rightKey func(R) LK,
	result func(key LK, left changeset.Optional[L], group *changeset.Grouping[R, RK, LK]) D,
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	return Run[LK, L, RK, R, D](left, right, Definition[LK, L, RK, R, D]{
		Kind:     Full,
		RightKey: rightKey,
		Result: func(s Side[LK, L, RK, R]) D {
			return result(s.Key, s.Left, s.Group)
		},
	}, opts...)
}
