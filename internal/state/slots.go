package state

// Slots is a fixed-length array of bound values.
type Slots[T comparable] struct {
	vals []T
}

// NewSlots creates n unbound slots.
func NewSlots[T comparable](n int) Slots[T] {
	return Slots[T]{vals: make([]T, n)}
}

// Len returns the number of slots.
func (s *Slots[T]) Len() int { return len(s.vals) }

// Get returns the value bound at i, or the zero value if i is out of range.
func (s *Slots[T]) Get(i int) T {
	if i < 0 || i >= len(s.vals) {
		var zero T
		return zero
	}
	return s.vals[i]
}

// Set binds v at i. It reports whether the bound value changed and
// whether i was in range.
func (s *Slots[T]) Set(i int, v T) (changed, ok bool) {
	if i < 0 || i >= len(s.vals) {
		return false, false
	}
	if s.vals[i] == v {
		return false, true
	}
	s.vals[i] = v
	return true, true
}

// Span returns one past the highest bound slot, or 0 if none is bound.
func (s *Slots[T]) Span() int {
	var zero T
	for i := len(s.vals) - 1; i >= 0; i-- {
		if s.vals[i] != zero {
			return i + 1
		}
	}
	return 0
}

// Each calls fn for every bound slot in ascending order.
func (s *Slots[T]) Each(fn func(i int, v T)) {
	var zero T
	for i, v := range s.vals {
		if v != zero {
			fn(i, v)
		}
	}
}

// Contains reports whether pred holds for any bound value.
func (s *Slots[T]) Contains(pred func(T) bool) bool {
	var zero T
	for _, v := range s.vals {
		if v != zero && pred(v) {
			return true
		}
	}
	return false
}

// Reset unbinds every slot and reports whether anything was bound.
func (s *Slots[T]) Reset() bool {
	var zero T
	changed := false
	for i := range s.vals {
		if s.vals[i] != zero {
			s.vals[i] = zero
			changed = true
		}
	}
	return changed
}
