// Package authbridge keeps the token store in step with the identity
// provider. The provider owns the session; the store holds the access token
// the request pipeline attaches to outgoing requests.
package authbridge

import (
	"context"
	"sync"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/serviceerr"
	"github.com/marko-app/marko/pkg/identity"
)

type Provider interface {
	CurrentSession(ctx context.Context) (*identity.Session, error)
	OnAuthStateChange(handler func(identity.Event)) (unsubscribe func())
}

type TokenStore interface {
	Set(ctx context.Context, token string) error
	Hydrate(ctx context.Context) error
}

var _ Provider = (*identity.Client)(nil)

type Bridge struct {
	provider Provider
	store    TokenStore

	subMu       sync.Mutex
	unsubscribe func()

	// writeMu serializes store writes. generation counts delivered events
	// so a pull never overwrites a newer pushed state.
	writeMu    sync.Mutex
	generation uint64
}

func New(provider Provider, store TokenStore) *Bridge {
	return &Bridge{
		provider: provider,
		store:    store,
	}
}

// Start runs the startup sequence: hydrate the store, subscribe to changes,
// then pull the current session once. Failures are logged; the client keeps
// running with whatever token the store holds.
func (b *Bridge) Start(ctx context.Context) (unsubscribe func()) {
	if err := b.store.Hydrate(ctx); err != nil {
		slogctx.Warn(ctx, "Failed to hydrate the token store", "error", err)
	}

	unsubscribe = b.Subscribe(ctx)

	if _, err := b.PrimeFromProvider(ctx); err != nil {
		slogctx.Warn(ctx, "Failed to prime the token store", "error", err)
	}

	return unsubscribe
}

// PrimeFromProvider writes the provider's current access token, or absent,
// into the store and returns it. On a provider failure the store is left
// unchanged. A store that cannot persist still holds the token in memory, so
// that failure is only logged.
func (b *Bridge) PrimeFromProvider(ctx context.Context) (string, error) {
	b.writeMu.Lock()
	gen := b.generation
	b.writeMu.Unlock()

	session, err := b.provider.CurrentSession(ctx)
	if err != nil {
		return "", serviceerr.Wrap(serviceerr.CodeProvider, err, "reading current session")
	}

	token := ""
	if session != nil {
		token = session.AccessToken
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.generation != gen {
		slogctx.Debug(ctx, "Session changed while priming, keeping the newer token")
		return token, nil
	}
	b.write(ctx, token, "prime")

	return token, nil
}

// Subscribe registers the bridge with the provider. It registers at most
// once; further calls return the same unsubscribe function until it is
// called.
func (b *Bridge) Subscribe(ctx context.Context) (unsubscribe func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if b.unsubscribe != nil {
		return b.unsubscribe
	}

	remove := b.provider.OnAuthStateChange(func(ev identity.Event) {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()

		b.generation++
		b.write(ctx, ev.AccessToken(), string(ev.Kind))
	})

	var once sync.Once
	b.unsubscribe = func() {
		once.Do(func() {
			remove()

			b.subMu.Lock()
			b.unsubscribe = nil
			b.subMu.Unlock()
		})
	}

	return b.unsubscribe
}

// write must be called with writeMu held.
func (b *Bridge) write(ctx context.Context, token, reason string) {
	if err := b.store.Set(ctx, token); err != nil {
		slogctx.Warn(ctx, "Failed to persist the session token", "reason", reason, "error", err)
		return
	}
	slogctx.Debug(ctx, "Updated the session token", "reason", reason, "present", token != "")
}
