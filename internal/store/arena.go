package store

// arena is an insertion-ordered keyed map. Entries live in a slot slice and
// are addressed through index; removal leaves a tombstone that is compacted
// away once tombstones make up more than half of the slots. Iteration follows
// slot order, which is insertion order, and updating a value keeps its slot.
//
// arena is not safe for concurrent use; ReaderWriter guards it.
type arena[K comparable, V any] struct {
	slots []slot[K, V]
	index map[K]int
	dead  int
}

type slot[K comparable, V any] struct {
	key   K
	value V
	live  bool
}

func newArena[K comparable, V any](capacity int) *arena[K, V] {
	return &arena[K, V]{
		slots: make([]slot[K, V], 0, capacity),
		index: make(map[K]int, capacity),
	}
}

func (a *arena[K, V]) len() int { return len(a.index) }

func (a *arena[K, V]) get(key K) (V, bool) {
	if i, ok := a.index[key]; ok {
		return a.slots[i].value, true
	}
	var zero V
	return zero, false
}

// set stores value under key and returns the previous value if there was one.
func (a *arena[K, V]) set(key K, value V) (prev V, existed bool) {
	if i, ok := a.index[key]; ok {
		prev = a.slots[i].value
		a.slots[i].value = value
		return prev, true
	}
	a.index[key] = len(a.slots)
	a.slots = append(a.slots, slot[K, V]{key: key, value: value, live: true})
	return prev, false
}

// remove deletes key and returns the removed value if it was present.
func (a *arena[K, V]) remove(key K) (V, bool) {
	i, ok := a.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	removed := a.slots[i].value
	var zero slot[K, V]
	a.slots[i] = zero
	delete(a.index, key)
	a.dead++
	if a.dead > len(a.slots)/2 {
		a.compact()
	}
	return removed, true
}

func (a *arena[K, V]) compact() {
	live := a.slots[:0]
	for _, s := range a.slots {
		if s.live {
			a.index[s.key] = len(live)
			live = append(live, s)
		}
	}
	// Zero the tail so removed values can be collected.
	var zero slot[K, V]
	for i := len(live); i < len(a.slots); i++ {
		a.slots[i] = zero
	}
	a.slots = live
	a.dead = 0
}

// each visits live entries in insertion order until fn returns false.
func (a *arena[K, V]) each(fn func(key K, value V) bool) {
	for i := range a.slots {
		if a.slots[i].live && !fn(a.slots[i].key, a.slots[i].value) {
			return
		}
	}
}

func (a *arena[K, V]) reset() {
	clear(a.slots)
	a.slots = a.slots[:0]
	a.index = make(map[K]int)
	a.dead = 0
}
