package models

// Optional holds a value that may not have been fetched yet. The zero
// Optional is unset, which is distinct from a set zero value.
type Optional[T any] struct {
	value T
	set   bool
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value or def when unset.
func (o Optional[T]) OrElse(def T) T {
	if !o.set {
		return def
	}
	return o.value
}

func (o *Optional[T]) Set(v T) {
	o.value = v
	o.set = true
}

