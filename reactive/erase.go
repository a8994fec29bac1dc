package reactive

// Erased is a value-type-erased EventSource, built at the builder
// boundary per the design note in §9: the composer and engine only ever
// deal with Erased, never with the trigger's original value type T.
type Erased struct {
	subscribe func(onNext func(any), onError func(error), onComplete func()) Lifetime
	equal     func(other *Erased) bool
	identity  any
}

// Erase wraps src, an EventSource[T] for any T, into an Erased source.
// If src implements TriggerEquatable, cohort merging (package compose) can
// compare two Erased values structurally; otherwise equality falls back
// to reference identity of the original source value.
func Erase[T any](src EventSource[T]) *Erased {
	e := &Erased{identity: src}
	e.subscribe = func(onNext func(any), onError func(error), onComplete func()) Lifetime {
		return src.Subscribe(func(v T) {
			if onNext != nil {
				onNext(v)
			}
		}, onError, onComplete)
	}
	e.equal = func(other *Erased) bool {
		if other == nil {
			return false
		}
		if eq, ok := any(src).(TriggerEquatable); ok {
			return eq.EqualTrigger(other.identity)
		}
		return identical(e.identity, other.identity)
	}
	return e
}

// Subscribe subscribes to the erased source, delivering values as `any`.
func (e *Erased) Subscribe(onNext func(any), onError func(error), onComplete func()) Lifetime {
	return e.subscribe(onNext, onError, onComplete)
}

// Equal reports whether e and other wrap the same (or an
// equality-compatible) underlying trigger, per the §4.3 cohort rule.
func (e *Erased) Equal(other *Erased) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil {
		return false
	}
	return e.equal(other)
}

// identical compares two `any` values for reference/value identity without
// panicking when the dynamic type is not comparable (e.g. a slice or map
// wrapped as the source's identity).
func identical(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
