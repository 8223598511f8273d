package changeset

// Optional holds a value that may be absent. The zero Optional is absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

// None returns an absent Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// HasValue reports whether a value is present.
func (o Optional[T]) HasValue() bool { return o.ok }

// Value returns the held value, or the zero value when absent.
func (o Optional[T]) Value() T { return o.value }

// ValueOr returns the held value, or def when absent.
func (o Optional[T]) ValueOr(def T) T {
	if o.ok {
		return o.value
	}
	return def
}

// Get returns the value and whether it is present, in the comma-ok style.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }
