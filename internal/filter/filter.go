// Package filter implements the stateful predicate filter used by filtered
// subscriptions.
package filter

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
)

// Options controls when predicate evaluation is partitioned across goroutines.
type Options struct {
	// Threshold is the change-set size above which evaluation is partitioned.
	// Zero or less disables partitioning.
	Threshold int
	// MaxDegreeOfParallelism caps the number of concurrent partitions.
	// Zero or less means runtime.NumCPU().
	MaxDegreeOfParallelism int
}

func (o Options) workers() int {
	if o.MaxDegreeOfParallelism > 0 {
		return o.MaxDegreeOfParallelism
	}
	return runtime.NumCPU()
}

// StaticFilter narrows a change-set stream to the entries matching a fixed
// predicate. It remembers which keys it has let through, so an update that
// makes an entry stop matching becomes a Remove and one that makes it start
// matching becomes an Add.
//
// A StaticFilter belongs to exactly one subscriber and is not safe for
// concurrent use.
type StaticFilter[K comparable, V any] struct {
	predicate func(V) bool
	opts      Options
	included  map[K]struct{}
}

// NewStatic creates a filter with an empty included-key set.
func NewStatic[K comparable, V any](predicate func(V) bool, opts Options) *StaticFilter[K, V] {
	return &StaticFilter[K, V]{
		predicate: predicate,
		opts:      opts,
		included:  make(map[K]struct{}),
	}
}

// Included reports whether key is currently let through.
func (f *StaticFilter[K, V]) Included(key K) bool {
	_, ok := f.included[key]
	return ok
}

// Filter reclassifies changes against the predicate. Output order follows
// input order regardless of partitioning. A predicate panic is returned as
// an error and leaves the included-key set untouched.
func (f *StaticFilter[K, V]) Filter(changes changeset.ChangeSet[K, V]) (changeset.ChangeSet[K, V], error) {
	matches, err := f.evaluate(changes)
	if err != nil {
		return nil, err
	}

	out := make(changeset.ChangeSet[K, V], 0, len(changes))
	for i, c := range changes {
		_, was := f.included[c.Key]
		switch c.Reason {
		case changeset.Add, changeset.Update:
			switch {
			case matches[i] && was:
				out = append(out, changeset.NewUpdate(c.Key, c.Current, c.Previous.ValueOr(c.Current)))
			case matches[i]:
				f.included[c.Key] = struct{}{}
				out = append(out, changeset.NewAdd(c.Key, c.Current))
			case was:
				delete(f.included, c.Key)
				out = append(out, changeset.NewRemove(c.Key, c.Previous.ValueOr(c.Current)))
			}

		case changeset.Refresh:
			switch {
			case matches[i] && was:
				out = append(out, c)
			case matches[i]:
				f.included[c.Key] = struct{}{}
				out = append(out, changeset.NewAdd(c.Key, c.Current))
			case was:
				delete(f.included, c.Key)
				out = append(out, changeset.NewRemove(c.Key, c.Current))
			}

		case changeset.Remove:
			if was {
				delete(f.included, c.Key)
				out = append(out, c)
			}

		case changeset.Moved:
			if was {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// evaluate runs the predicate for every change that carries a value to test.
func (f *StaticFilter[K, V]) evaluate(changes changeset.ChangeSet[K, V]) ([]bool, error) {
	matches := make([]bool, len(changes))
	if f.opts.Threshold <= 0 || len(changes) <= f.opts.Threshold {
		return matches, f.evaluateRange(changes, matches, 0, len(changes))
	}

	workers := f.opts.workers()
	chunk := (len(changes) + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < len(changes); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(changes))
		g.Go(func() error {
			return f.evaluateRange(changes, matches, lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (f *StaticFilter[K, V]) evaluateRange(changes changeset.ChangeSet[K, V], matches []bool, lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()
	for i := lo; i < hi; i++ {
		switch changes[i].Reason {
		case changeset.Add, changeset.Update, changeset.Refresh:
			matches[i] = f.predicate(changes[i].Current)
		}
	}
	return nil
}
