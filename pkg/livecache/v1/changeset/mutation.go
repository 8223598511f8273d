package changeset

// MutationKind identifies the intent carried by a Mutation.
type MutationKind int

const (
	// MutationAddOrUpdate sets Key to Value.
	MutationAddOrUpdate MutationKind = iota + 1
	// MutationAddOrUpdateItem sets Value under the key derived by the store's key selector.
	MutationAddOrUpdateItem
	// MutationRemove removes Key; a no-op when the key is absent.
	MutationRemove
	// MutationRefresh re-announces Key; a no-op when the key is absent.
	MutationRefresh
	// MutationClear removes every key.
	MutationClear
	// MutationReplace replaces the whole collection with Items.
	MutationReplace
)

// Mutation is one write intent. A batch of mutations is applied in order as
// a single write.
type Mutation[K comparable, V any] struct {
	Kind  MutationKind
	Key   K
	Value V
	Items []KeyValue[K, V]
}

// AddOrUpdate returns a mutation setting key to value.
func AddOrUpdate[K comparable, V any](key K, value V) Mutation[K, V] {
	return Mutation[K, V]{Kind: MutationAddOrUpdate, Key: key, Value: value}
}

// AddOrUpdateItem returns a mutation whose key is derived from value by the
// store's key selector.
func AddOrUpdateItem[K comparable, V any](value V) Mutation[K, V] {
	return Mutation[K, V]{Kind: MutationAddOrUpdateItem, Value: value}
}

// RemoveKey returns a mutation removing key.
func RemoveKey[K comparable, V any](key K) Mutation[K, V] {
	return Mutation[K, V]{Kind: MutationRemove, Key: key}
}

// RefreshKey returns a mutation refreshing key.
func RefreshKey[K comparable, V any](key K) Mutation[K, V] {
	return Mutation[K, V]{Kind: MutationRefresh, Key: key}
}

// Clear returns a mutation removing every key.
func Clear[K comparable, V any]() Mutation[K, V] {
	return Mutation[K, V]{Kind: MutationClear}
}

// Replace returns a mutation replacing the whole collection with items.
func Replace[K comparable, V any](items []KeyValue[K, V]) Mutation[K, V] {
	return Mutation[K, V]{Kind: MutationReplace, Items: items}
}
