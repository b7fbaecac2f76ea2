package observable

// Field is a snapshot value that is either Defined or not received yet.
// A defined field can hold a "known absent" value, e.g. a nil pointer for an empty storage entry.
type Field[T any] struct {
	value   T
	defined bool
}

func Defined[T any](value T) Field[T] {
	return Field[T]{value: value, defined: true}
}

func Undefined[T any]() Field[T] {
	return Field[T]{}
}

func (f Field[T]) IsDefined() bool {
	return f.defined
}

// Get returns the value and whether it is defined
func (f Field[T]) Get() (T, bool) {
	return f.value, f.defined
}

// Or returns the value, or fallback when undefined
func (f Field[T]) Or(fallback T) T {
	if !f.defined {
		return fallback
	}
	return f.value
}

// Merge applies a partial change: a defined next replaces f, an undefined one keeps it.
func (f Field[T]) Merge(next Field[T]) Field[T] {
	if next.defined {
		return next
	}
	return f
}

// MergeMap returns a copy of current with every entry of next applied on top.
// Neither input is modified so snapshots built from them stay immutable.
func MergeMap[K comparable, V any](current, next map[K]V) map[K]V {
	if len(next) == 0 {
		return current
	}
	merged := make(map[K]V, len(current)+len(next))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}
	return merged
}
