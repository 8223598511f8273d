package changeset

// Grouping is an immutable snapshot of the members of one group: the items
// whose group key is Key, in the order they joined the group. A new Grouping
// is built whenever membership or a member value changes; existing snapshots
// never observe later changes.
type Grouping[V any, K comparable, GK comparable] struct {
	key   GK
	items []KeyValue[K, V]
	index map[K]int
}

// NewGrouping builds a snapshot over items. The slice is copied.
func NewGrouping[V any, K comparable, GK comparable](key GK, items []KeyValue[K, V]) *Grouping[V, K, GK] {
	g := &Grouping[V, K, GK]{
		key:   key,
		items: make([]KeyValue[K, V], len(items)),
		index: make(map[K]int, len(items)),
	}
	copy(g.items, items)
	for i, kv := range g.items {
		g.index[kv.Key] = i
	}
	return g
}

// EmptyGrouping returns a snapshot with no members.
func EmptyGrouping[V any, K comparable, GK comparable](key GK) *Grouping[V, K, GK] {
	return NewGrouping[V, K, GK](key, nil)
}

// Key returns the group key.
func (g *Grouping[V, K, GK]) Key() GK { return g.key }

// Count returns the number of members.
func (g *Grouping[V, K, GK]) Count() int { return len(g.items) }

// Lookup returns the member stored under key.
func (g *Grouping[V, K, GK]) Lookup(key K) Optional[V] {
	if i, ok := g.index[key]; ok {
		return Some(g.items[i].Value)
	}
	return None[V]()
}

// Keys returns the member keys in group order.
func (g *Grouping[V, K, GK]) Keys() []K {
	keys := make([]K, len(g.items))
	for i, kv := range g.items {
		keys[i] = kv.Key
	}
	return keys
}

// Items returns a copy of the members in group order.
func (g *Grouping[V, K, GK]) Items() []KeyValue[K, V] {
	out := make([]KeyValue[K, V], len(g.items))
	copy(out, g.items)
	return out
}

// Values returns the member values in group order.
func (g *Grouping[V, K, GK]) Values() []V {
	out := make([]V, len(g.items))
	for i, kv := range g.items {
		out[i] = kv.Value
	}
	return out
}
