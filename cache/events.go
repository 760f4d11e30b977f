package cache

import "time"

// EventKind identifies what happened to an entry.
type EventKind string

const (
	EventHit        EventKind = "hit"
	EventMiss       EventKind = "miss"
	EventDedup      EventKind = "dedup"
	EventCommit     EventKind = "commit"
	EventDiscard    EventKind = "discard"
	EventError      EventKind = "error"
	EventInvalidate EventKind = "invalidate"
	EventPatch      EventKind = "patch"
	EventEvict      EventKind = "evict"
)

// Event is emitted to the hook registered with WithEventHook.
// Duration is only set for commit, discard and error events.
type Event struct {
	Kind     EventKind
	Key      string
	Duration time.Duration
	Err      error
}

// EventHook receives cache events. It runs outside the store lock and
// must not block.
type EventHook func(Event)
