package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a store after Close.
	ErrClosed = errors.New("cache: store closed")

	// ErrNoLoader is returned by Refetch for keys that were never fetched.
	ErrNoLoader = errors.New("cache: no loader registered for key")
)

// FetchError wraps a loader failure together with the key it was loading.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cache: fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TypeError reports a cached value that does not have the requested type.
type TypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cache: value for %s is %T, want %s", e.Key, e.Got, e.Want)
}

// PanicError is produced when a loader panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("loader panic: %v", e.Value)
}
