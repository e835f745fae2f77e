package identity

import (
	"maps"
	"slices"
	"sync"
)

type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is an auth state change. Session is nil after a sign-out.
type Event struct {
	Kind    EventKind
	Session *Session
}

// AccessToken returns the token the event carries, "" when signed out.
func (e Event) AccessToken() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.AccessToken
}

type listeners struct {
	mu       sync.Mutex
	next     uint64
	handlers map[uint64]func(Event)
}

func (l *listeners) add(h func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handlers == nil {
		l.handlers = make(map[uint64]func(Event))
	}
	id := l.next
	l.next++
	l.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.handlers, id)
		})
	}
}

// snapshot returns the handlers in registration order.
func (l *listeners) snapshot() []func(Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]func(Event), 0, len(l.handlers))
	for _, id := range slices.Sorted(maps.Keys(l.handlers)) {
		out = append(out, l.handlers[id])
	}
	return out
}
