package config

import "fmt"

// Optional holds a value that may be absent. Absent and zero are distinct.
type Optional[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func OptionalFromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

func (o Optional[T]) OrElse(def T) T {
	if !o.set {
		return def
	}
	return o.value
}

func (o Optional[T]) Ptr() *T {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

func (o Optional[T]) String() string {
	if !o.set {
		return "unset"
	}
	return fmt.Sprint(o.value)
}
