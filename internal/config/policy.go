package config

// StateAccessMode defines how values are handed out by the cache's snapshot
// accessors. It is a typed string to enforce valid values.
type StateAccessMode string

const (
	// StateAccessDeepCopy (default) clones every value returned by Lookup,
	// Items and KeyValues, so callers can never mutate what the store holds.
	StateAccessDeepCopy StateAccessMode = "deep_copy"

	// StateAccessUnsafeDirectReference returns stored values as-is. Callers
	// must treat maps, slices and pointers reachable from them as immutable.
	StateAccessUnsafeDirectReference StateAccessMode = "unsafe_direct_reference"
)

// StatePolicy defines the rules for how callers read from the cache's store.
type StatePolicy struct {
	// AccessMode controls the method used for reading from the store.
	// Valid values are "deep_copy" or "unsafe_direct_reference".
	// If unset, it defaults to "deep_copy".
	AccessMode StateAccessMode `yaml:"access_mode,omitempty" json:"access_mode,omitempty"`
}
