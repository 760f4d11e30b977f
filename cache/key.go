package cache

import "strings"

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Key identifies one cached query result: a resource tag followed by an
// ordered list of parameters (page, search term, id, filter set...).
// Two keys are equal iff their serialized forms are equal.
type Key struct {
	Tag    string
	Params []any
}

// NewKey builds a Key from a resource tag and its parameters.
func NewKey(tag string, params ...any) Key {
	return Key{Tag: tag, Params: params}
}

// Prefix builds a partial key used for invalidation. It is a regular Key;
// matching happens on the serialized form segment by segment.
func Prefix(tag string, params ...any) Key {
	return NewKey(tag, params...)
}

// String returns the key serialized with the default serializer.
func (k Key) String() string {
	return defaultSerializer.SerializeKey(k.Tag, k.Params...)
}

// Extend returns a copy of k with params appended.
func (k Key) Extend(params ...any) Key {
	out := make([]any, 0, len(k.Params)+len(params))
	out = append(out, k.Params...)
	out = append(out, params...)
	return Key{Tag: k.Tag, Params: out}
}

// KeySerializer builds a serialized cache key from a resource tag and params.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(tag string, params ...any) string
}

// MatchesPrefix reports whether the serialized key falls under prefix.
// Matching respects segment boundaries, so "bookings" matches
// "bookings::1" but not "bookings_archive". An empty prefix matches all keys.
func MatchesPrefix(key, prefix string) bool {
	if prefix == "" || key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+KeySeparator)
}
