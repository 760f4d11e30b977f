package mutation

import (
	"github.com/goliatone/go-query-cache/cache"
)

// Kind tells how a strategy reconciles the cache after a write.
type Kind int

const (
	// KindInvalidate marks key prefixes stale so subscribed reads refetch.
	KindInvalidate Kind = iota + 1
	// KindPatch rewrites cached values in place.
	KindPatch
)

func (k Kind) String() string {
	switch k {
	case KindInvalidate:
		return "invalidate"
	case KindPatch:
		return "patch"
	default:
		return "unknown"
	}
}

// PatchFunc applies an optimistic update after a successful write.
type PatchFunc[In, Out any] func(store cache.Store, in In, out Out) error

// Strategy is one cache reconciliation step run after a successful write.
// Build it with Invalidate, InvalidateFor or Patch.
type Strategy[In, Out any] struct {
	kind     Kind
	prefixes func(in In, out Out) []cache.Key
	patch    PatchFunc[In, Out]
}

// Invalidate marks every entry under prefixes stale.
func Invalidate[In, Out any](prefixes ...cache.Key) Strategy[In, Out] {
	fixed := append([]cache.Key(nil), prefixes...)
	return Strategy[In, Out]{
		kind:     KindInvalidate,
		prefixes: func(In, Out) []cache.Key { return fixed },
	}
}

// InvalidateFor derives the prefixes from the write, for narrow keys such
// as the detail entry of the record that changed.
func InvalidateFor[In, Out any](fn func(in In, out Out) []cache.Key) Strategy[In, Out] {
	return Strategy[In, Out]{kind: KindInvalidate, prefixes: fn}
}

// Patch runs fn against the store.
func Patch[In, Out any](fn PatchFunc[In, Out]) Strategy[In, Out] {
	return Strategy[In, Out]{kind: KindPatch, patch: fn}
}

// Kind reports which variant s is.
func (s Strategy[In, Out]) Kind() Kind {
	return s.kind
}

// Prefixes returns the keys an invalidation strategy would mark stale for
// the given write. Patch strategies return nil.
func (s Strategy[In, Out]) Prefixes(in In, out Out) []cache.Key {
	if s.kind != KindInvalidate || s.prefixes == nil {
		return nil
	}
	return s.prefixes(in, out)
}

func (s Strategy[In, Out]) apply(store cache.Store, in In, out Out) (int, error) {
	switch s.kind {
	case KindInvalidate:
		matched := 0
		for _, prefix := range s.Prefixes(in, out) {
			matched += store.Invalidate(prefix)
		}
		return matched, nil
	case KindPatch:
		if s.patch == nil {
			return 0, nil
		}
		return 0, s.patch(store, in, out)
	default:
		return 0, nil
	}
}
