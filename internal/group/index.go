// Package group maintains keyed items partitioned by a derived group key,
// and the Group operator built on it.
package group

import (
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
)

// Index tracks which group every item belongs to. Items live in a slot arena
// addressed by item key; a slot keeps its position for as long as the item
// exists and freed slots are reused. Each group lists its member slots in the
// order they joined.
//
// Index is not safe for concurrent use.
type Index[K comparable, V any, GK comparable] struct {
	slots  []member[K, V, GK]
	free   []int
	byKey  map[K]int
	groups map[GK][]int
	seq    uint64
}

type member[K comparable, V any, GK comparable] struct {
	key   K
	value V
	group GK
	// written orders members by their last write, for LatestIn.
	written uint64
}

// NewIndex creates an empty index.
func NewIndex[K comparable, V any, GK comparable]() *Index[K, V, GK] {
	return &Index[K, V, GK]{
		byKey:  make(map[K]int),
		groups: make(map[GK][]int),
	}
}

// Set stores value under key in group gk. When key already belonged to a
// different group it is moved: removed from the old group and appended to
// the new one. prev is the group key was in before, if it existed.
func (x *Index[K, V, GK]) Set(key K, value V, gk GK) (prev GK, existed bool) {
	x.seq++
	if i, ok := x.byKey[key]; ok {
		m := &x.slots[i]
		prev = m.group
		m.value = value
		m.written = x.seq
		if prev != gk {
			x.unlink(prev, i)
			m.group = gk
			x.groups[gk] = append(x.groups[gk], i)
		}
		return prev, true
	}

	var i int
	if n := len(x.free); n > 0 {
		i = x.free[n-1]
		x.free = x.free[:n-1]
	} else {
		i = len(x.slots)
		x.slots = append(x.slots, member[K, V, GK]{})
	}
	x.slots[i] = member[K, V, GK]{key: key, value: value, group: gk, written: x.seq}
	x.byKey[key] = i
	x.groups[gk] = append(x.groups[gk], i)
	return prev, false
}

// Delete removes key and reports the group it belonged to.
func (x *Index[K, V, GK]) Delete(key K) (GK, bool) {
	i, ok := x.byKey[key]
	if !ok {
		var zero GK
		return zero, false
	}
	gk := x.slots[i].group
	x.unlink(gk, i)
	delete(x.byKey, key)
	x.slots[i] = member[K, V, GK]{}
	x.free = append(x.free, i)
	return gk, true
}

func (x *Index[K, V, GK]) unlink(gk GK, slot int) {
	members := x.groups[gk]
	for j, s := range members {
		if s == slot {
			members = append(members[:j], members[j+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(x.groups, gk)
		return
	}
	x.groups[gk] = members
}

// GroupOf returns the group key currently holds.
func (x *Index[K, V, GK]) GroupOf(key K) (GK, bool) {
	if i, ok := x.byKey[key]; ok {
		return x.slots[i].group, true
	}
	var zero GK
	return zero, false
}

// Has reports whether group gk has at least one member.
func (x *Index[K, V, GK]) Has(gk GK) bool {
	_, ok := x.groups[gk]
	return ok
}

// Len returns the number of items.
func (x *Index[K, V, GK]) Len() int { return len(x.byKey) }

// GroupCount returns the number of non-empty groups.
func (x *Index[K, V, GK]) GroupCount() int { return len(x.groups) }

// Snapshot returns an immutable view of group gk, or false if it has no
// members.
func (x *Index[K, V, GK]) Snapshot(gk GK) (*changeset.Grouping[V, K, GK], bool) {
	members, ok := x.groups[gk]
	if !ok {
		return nil, false
	}
	items := make([]changeset.KeyValue[K, V], len(members))
	for j, s := range members {
		items[j] = changeset.KeyValue[K, V]{Key: x.slots[s].key, Value: x.slots[s].value}
	}
	return changeset.NewGrouping(gk, items), true
}

// LatestIn returns the most recently written member of group gk.
func (x *Index[K, V, GK]) LatestIn(gk GK) (V, bool) {
	var (
		best  V
		found bool
		when  uint64
	)
	for _, s := range x.groups[gk] {
		if m := x.slots[s]; m.written > when {
			best, when, found = m.value, m.written, true
		}
	}
	return best, found
}

// Apply folds an upstream change-set into the index, deriving each item's
// group with groupKey, and records every group whose membership or member
// values changed in touched. A refresh that leaves an item in its group
// touches the group as a refresh only.
func (x *Index[K, V, GK]) Apply(changes changeset.ChangeSet[K, V], groupKey func(V) GK, touched *Touched[GK]) {
	for _, c := range changes {
		switch c.Reason {
		case changeset.Add, changeset.Update:
			gk := groupKey(c.Current)
			if prev, existed := x.Set(c.Key, c.Current, gk); existed && prev != gk {
				touched.Mark(prev, false)
			}
			touched.Mark(gk, false)
		case changeset.Remove:
			if gk, ok := x.Delete(c.Key); ok {
				touched.Mark(gk, false)
			}
		case changeset.Refresh:
			old, ok := x.GroupOf(c.Key)
			if !ok {
				continue
			}
			gk := groupKey(c.Current)
			x.Set(c.Key, c.Current, gk)
			if gk != old {
				touched.Mark(old, false)
				touched.Mark(gk, false)
				continue
			}
			touched.Mark(gk, true)
		}
	}
}

// Touched collects the keys affected by one input change-set in order of
// first appearance.
type Touched[K comparable] struct {
	order   []K
	refresh map[K]bool
}

// NewTouched creates an empty set.
func NewTouched[K comparable]() *Touched[K] {
	return &Touched[K]{refresh: make(map[K]bool)}
}

// Mark records key. A key stays refresh-only until it is marked by a change
// that is not a refresh.
func (t *Touched[K]) Mark(key K, refreshOnly bool) {
	r, seen := t.refresh[key]
	if !seen {
		t.order = append(t.order, key)
		t.refresh[key] = refreshOnly
		return
	}
	t.refresh[key] = r && refreshOnly
}

// Len returns the number of distinct keys marked.
func (t *Touched[K]) Len() int { return len(t.order) }

// Each visits the marked keys in order of first appearance.
func (t *Touched[K]) Each(fn func(key K, refreshOnly bool)) {
	for _, k := range t.order {
		fn(k, t.refresh[k])
	}
}
