package tokenstoremock

import (
	"context"
	"sync"

	"github.com/marko-app/marko/pkg/tokenstore"
)

type BackendOption func(*Backend)

type Backend struct {
	mu     sync.Mutex
	values map[string]string
	writes int

	getErr, setErr, deleteErr error
}

func WithValue(key, value string) BackendOption {
	return func(b *Backend) { b.values[key] = value }
}
func WithGetError(err error) BackendOption {
	return func(b *Backend) { b.getErr = err }
}
func WithSetError(err error) BackendOption {
	return func(b *Backend) { b.setErr = err }
}
func WithDeleteError(err error) BackendOption {
	return func(b *Backend) { b.deleteErr = err }
}

var _ = tokenstore.Backend(&Backend{})

func NewInMemBackend(opts ...BackendOption) *Backend {
	b := &Backend{
		values: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.getErr != nil {
		return "", false, b.getErr
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.setErr != nil {
		return b.setErr
	}
	b.values[key] = value
	b.writes++
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.values, key)
	b.writes++
	return nil
}

// SetErrors replaces the injected errors, nil clears them.
func (b *Backend) SetErrors(getErr, setErr, deleteErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.getErr, b.setErr, b.deleteErr = getErr, setErr, deleteErr
}

// Writes returns the number of successful Set and Delete calls.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.writes
}

// Value returns the raw stored value, bypassing injected errors.
func (b *Backend) Value(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.values[key]
	return v, ok
}
