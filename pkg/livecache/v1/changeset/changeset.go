// Package changeset defines the data model shared by every livecache component:
// a single key's transition (Change) and the ordered batch of transitions
// produced by one write (ChangeSet).
package changeset

import "fmt"

// Reason categorizes a single key transition.
type Reason int

const (
	// Add signals a key that was not present before.
	Add Reason = iota
	// Update signals a new value for a key that was already present.
	Update
	// Remove signals a key that is no longer present.
	Remove
	// Refresh asks consumers to re-evaluate derived state for an unchanged value.
	Refresh
	// Moved signals a positional change in an ordered projection. The keyed
	// store keeps no order, so Moved never alters state.
	Moved
)

var reasonNames = [...]string{"Add", "Update", "Remove", "Refresh", "Moved"}

// String returns the reason's name.
func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("Reason(%d)", int(r))
	}
	return reasonNames[r]
}

// Change is one key's transition. Previous is present iff Reason is Update or
// Remove; for Remove both Current and Previous carry the removed value.
type Change[K comparable, V any] struct {
	Reason   Reason
	Key      K
	Current  V
	Previous Optional[V]
}

// NewAdd returns an Add change.
func NewAdd[K comparable, V any](key K, current V) Change[K, V] {
	return Change[K, V]{Reason: Add, Key: key, Current: current}
}

// NewUpdate returns an Update change carrying the replaced value.
func NewUpdate[K comparable, V any](key K, current, previous V) Change[K, V] {
	return Change[K, V]{Reason: Update, Key: key, Current: current, Previous: Some(previous)}
}

// NewRemove returns a Remove change for the removed value.
func NewRemove[K comparable, V any](key K, removed V) Change[K, V] {
	return Change[K, V]{Reason: Remove, Key: key, Current: removed, Previous: Some(removed)}
}

// NewRefresh returns a Refresh change.
func NewRefresh[K comparable, V any](key K, current V) Change[K, V] {
	return Change[K, V]{Reason: Refresh, Key: key, Current: current}
}

// NewMoved returns a Moved change.
func NewMoved[K comparable, V any](key K, current V) Change[K, V] {
	return Change[K, V]{Reason: Moved, Key: key, Current: current}
}

// String renders the change for logs and test failures.
func (c Change[K, V]) String() string {
	if c.Previous.HasValue() && c.Reason == Update {
		return fmt.Sprintf("%s(%v: %v -> %v)", c.Reason, c.Key, c.Previous.Value(), c.Current)
	}
	return fmt.Sprintf("%s(%v: %v)", c.Reason, c.Key, c.Current)
}

// ChangeSet is the ordered batch of changes produced by one write. Order is
// the order in which operations were applied and is never re-sorted.
type ChangeSet[K comparable, V any] []Change[K, V]

// Len returns the number of changes.
func (cs ChangeSet[K, V]) Len() int { return len(cs) }

// Adds counts Add changes.
func (cs ChangeSet[K, V]) Adds() int { return cs.count(Add) }

// Updates counts Update changes.
func (cs ChangeSet[K, V]) Updates() int { return cs.count(Update) }

// Removes counts Remove changes.
func (cs ChangeSet[K, V]) Removes() int { return cs.count(Remove) }

// Refreshes counts Refresh changes.
func (cs ChangeSet[K, V]) Refreshes() int { return cs.count(Refresh) }

// Moves counts Moved changes.
func (cs ChangeSet[K, V]) Moves() int { return cs.count(Moved) }

func (cs ChangeSet[K, V]) count(r Reason) int {
	n := 0
	for i := range cs {
		if cs[i].Reason == r {
			n++
		}
	}
	return n
}

// KeyValue pairs a key with its value, as returned by snapshot accessors.
type KeyValue[K comparable, V any] struct {
	Key   K
	Value V
}
