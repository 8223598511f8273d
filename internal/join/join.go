// Package join combines two keyed change-set streams into a cache keyed by
// the left key. The right side is grouped by the left key each right item
// maps to; for every left key affected by an input change-set the result is
// re-derived from the left value and that group, and diffed into the
// destination cache.
package join

import (
	"context"
	"errors"

	"github.com/gxo-labs/livecache/internal/broadcast"
	"github.com/gxo-labs/livecache/internal/cache"
	"github.com/gxo-labs/livecache/internal/config"
	"github.com/gxo-labs/livecache/internal/group"
	"github.com/gxo-labs/livecache/internal/store"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

// Kind selects which left keys produce a result.
type Kind int

const (
	// Inner emits a result while both the left value and a non-empty right
	// group exist.
	Inner Kind = iota
	// Left emits a result while the left value exists.
	Left
	// Right emits a result while a non-empty right group exists.
	Right
	// Full emits a result while either side exists.
	Full
)

var kindNames = [...]string{"inner", "left", "right", "full"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

func (k Kind) emits(hasLeft, hasRight bool) bool {
	switch k {
	case Inner:
		return hasLeft && hasRight
	case Left:
		return hasLeft
	case Right:
		return hasRight
	default:
		return hasLeft || hasRight
	}
}

// Side is the state of one left key when its result is derived. Group is
// never nil; it is empty when no right item maps to Key.
type Side[LK comparable, L any, RK comparable, R any] struct {
	Key LK
	// Left is absent for right and full joins when no left value exists.
	Left  changeset.Optional[L]
	Group *changeset.Grouping[R, RK, LK]
	// Right is the most recently written member of Group.
	Right changeset.Optional[R]
}

// Definition describes one join.
type Definition[LK comparable, L any, RK comparable, R any, D any] struct {
	Kind Kind
	// RightKey maps a right item to the left key it belongs with.
	RightKey func(R) LK
	// Result builds the destination value for a left key that emits.
	Result func(Side[LK, L, RK, R]) D
}

// Run starts a join of left and right into a new cache. The result completes
// once both inputs have completed and is torn down with a writer fault when
// either input fails or a selector panics. Disposing the result closes both
// inputs.
func Run[LK comparable, L any, RK comparable, R any, D any](
	left stream.Stream[changeset.ChangeSet[LK, L]],
	right stream.Stream[changeset.ChangeSet[RK, R]],
	def Definition[LK, L, RK, R, D],
	opts ...v1.CacheOption,
) (*cache.Cache[LK, D], error) {
	if left == nil || right == nil {
		return nil, lcerrors.NewValidationError("join input streams cannot be nil", nil)
	}
	if def.RightKey == nil || def.Result == nil {
		return nil, lcerrors.NewValidationError("join key and result selectors cannot be nil", nil)
	}
	dest, err := cache.New[LK, D](nil, opts...)
	if err != nil {
		return nil, err
	}

	j := &joiner[LK, L, RK, R, D]{
		def:     def,
		dest:    dest,
		left:    store.New(store.Options[LK, L]{AccessMode: config.StateAccessUnsafeDirectReference}),
		right:   group.NewIndex[RK, R, LK](),
		emitted: make(map[LK]struct{}),
	}
	broadcast.Unbound(left)
	broadcast.Unbound(right)
	ctx, cancel := context.WithCancel(context.Background())
	dest.OnDispose(cancel)
	go j.run(ctx, left, right)
	return dest, nil
}

type joiner[LK comparable, L any, RK comparable, R any, D any] struct {
	def   Definition[LK, L, RK, R, D]
	dest  *cache.Cache[LK, D]
	left  *store.ReaderWriter[LK, L]
	right *group.Index[RK, R, LK]
	// emitted holds the left keys that currently have a result.
	emitted map[LK]struct{}
}

func (j *joiner[LK, L, RK, R, D]) run(ctx context.Context, left stream.Stream[changeset.ChangeSet[LK, L]], right stream.Stream[changeset.ChangeSet[RK, R]]) {
	defer left.Close()
	defer right.Close()

	leftC, rightC := left.C(), right.C()
	for leftC != nil || rightC != nil {
		var (
			touched *group.Touched[LK]
			err     error
		)
		select {
		case <-ctx.Done():
			return
		case changes, ok := <-leftC:
			if !ok {
				if err := terminalErr(left); err != nil {
					j.dest.Fail(err)
					return
				}
				leftC = nil
				continue
			}
			touched, err = j.onLeft(changes)
		case changes, ok := <-rightC:
			if !ok {
				if err := terminalErr(right); err != nil {
					j.dest.Fail(err)
					return
				}
				rightC = nil
				continue
			}
			touched, err = j.onRight(changes)
		}
		if err == nil {
			err = j.publish(ctx, touched)
		}
		if err != nil {
			j.dest.Fail(err)
			return
		}
	}
	j.dest.Seal()
}

func terminalErr[T any](s stream.Stream[T]) error {
	if err := s.Err(); err != nil && !errors.Is(err, lcerrors.ErrSubscriptionClosed) {
		return err
	}
	return nil
}

func (j *joiner[LK, L, RK, R, D]) onLeft(changes changeset.ChangeSet[LK, L]) (*group.Touched[LK], error) {
	applied, err := j.left.Apply(changes)
	if err != nil {
		return nil, err
	}
	touched := group.NewTouched[LK]()
	for _, c := range applied {
		switch c.Reason {
		case changeset.Add, changeset.Update, changeset.Remove:
			touched.Mark(c.Key, false)
		case changeset.Refresh:
			touched.Mark(c.Key, true)
		}
	}
	return touched, nil
}

func (j *joiner[LK, L, RK, R, D]) onRight(changes changeset.ChangeSet[RK, R]) (touched *group.Touched[LK], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()
	touched = group.NewTouched[LK]()
	j.right.Apply(changes, j.def.RightKey, touched)
	return touched, nil
}

// publish re-derives the result of every touched left key and writes the
// differences to the destination as one change-set.
func (j *joiner[LK, L, RK, R, D]) publish(ctx context.Context, touched *group.Touched[LK]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()

	out := make(changeset.ChangeSet[LK, D], 0, touched.Len())
	touched.Each(func(lk LK, refreshOnly bool) {
		lv := j.left.Lookup(lk)
		grouping, hasRight := j.right.Snapshot(lk)
		_, had := j.emitted[lk]

		if !j.def.Kind.emits(lv.HasValue(), hasRight) {
			if had {
				delete(j.emitted, lk)
				var zero D
				out = append(out, changeset.NewRemove(lk, zero))
			}
			return
		}

		side := Side[LK, L, RK, R]{Key: lk, Left: lv, Group: grouping}
		if hasRight {
			if latest, ok := j.right.LatestIn(lk); ok {
				side.Right = changeset.Some(latest)
			}
		} else {
			side.Group = changeset.EmptyGrouping[R, RK](lk)
		}
		d := j.def.Result(side)
		if had && refreshOnly {
			out = append(out, changeset.NewRefresh(lk, d))
			return
		}
		j.emitted[lk] = struct{}{}
		out = append(out, changeset.NewAdd(lk, d))
	})
	return j.dest.Apply(ctx, out)
}
