// Package tokenstore holds the single session token of the client.
//
// A Store mirrors one key of a durable Backend in memory. The empty string
// stands for an absent token. Writes are serialized and update storage and
// memory under the same lock, so a reader never sees the two disagree for
// longer than one Set. When storage fails the memory copy is still updated:
// the session stays usable for the lifetime of the process.
package tokenstore

import (
	"context"
	"sync"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/serviceerr"
)

// DefaultKey is the storage key of the session token.
const DefaultKey = "session_token"

type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

type Store struct {
	backend Backend
	key     string

	mu       sync.RWMutex
	token    string
	hydrated bool
	// dirty is set when the memory copy could not be persisted.
	dirty bool
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     DefaultKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the current token, or "" when there is none. The first call
// on a store that was not hydrated reads the backend.
func (s *Store) Get(ctx context.Context) string {
	s.mu.RLock()
	if s.hydrated {
		defer s.mu.RUnlock()
		return s.token
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hydrated {
		if err := s.hydrateLocked(ctx); err != nil {
			slogctx.Warn(ctx, "Could not read the session token, treating it as absent", "error", err)
		}
	}
	return s.token
}

// Set replaces the current token. An empty token deletes the persisted one.
// A persistence error is returned after memory has been updated.
func (s *Store) Set(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated && !s.dirty && s.token == token {
		return nil
	}

	var err error
	if token == "" {
		err = s.backend.Delete(ctx, s.key)
	} else {
		err = s.backend.Set(ctx, s.key, token)
	}

	s.token = token
	s.hydrated = true
	s.dirty = err != nil

	if err != nil {
		slogctx.Error(ctx, "Could not persist the session token", "key", s.key, "error", err)
		return serviceerr.Wrap(serviceerr.CodePersistence, err, "persisting session token")
	}
	return nil
}

// Clear removes the token.
func (s *Store) Clear(ctx context.Context) error {
	return s.Set(ctx, "")
}

// Hydrate loads the persisted token into memory. It may be called any number
// of times; on failure memory is left as it was.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hydrateLocked(ctx)
}

func (s *Store) hydrateLocked(ctx context.Context) error {
	value, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return serviceerr.Wrap(serviceerr.CodePersistence, err, "reading session token")
	}
	if !ok {
		value = ""
	}

	s.token = value
	s.hydrated = true
	s.dirty = false
	return nil
}
