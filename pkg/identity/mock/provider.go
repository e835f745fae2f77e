package identitymock

import (
	"context"
	"sync"

	"github.com/marko-app/marko/pkg/identity"
)

type ProviderOption func(*Provider)

// Provider is an in-memory identity provider. Emit delivers events
// synchronously to the registered handlers like the real client.
type Provider struct {
	mu       sync.Mutex
	session  *identity.Session
	err      error
	handlers map[int]func(identity.Event)
	next     int
	calls    int
}

func WithSession(accessToken string) ProviderOption {
	return func(p *Provider) {
		p.session = &identity.Session{AccessToken: accessToken}
	}
}

func WithError(err error) ProviderOption {
	return func(p *Provider) { p.err = err }
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		handlers: make(map[int]func(identity.Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) CurrentSession(_ context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.session == nil {
		return nil, nil
	}
	s := *p.session
	return &s, nil
}

func (p *Provider) OnAuthStateChange(h func(identity.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	p.handlers[id] = h

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

// Emit sets the current session from the event and delivers it.
func (p *Provider) Emit(kind identity.EventKind, accessToken string) {
	var ev identity.Event
	ev.Kind = kind
	if accessToken != "" {
		ev.Session = &identity.Session{AccessToken: accessToken}
	}

	p.mu.Lock()
	p.session = ev.Session
	handlers := make([]func(identity.Event), 0, len(p.handlers))
	for i := range p.next {
		if h, ok := p.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (p *Provider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Subscribers returns the number of registered handlers.
func (p *Provider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// Calls returns how often CurrentSession was called.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
