package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"filippo.io/age"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/config"
	"github.com/marko-app/marko/internal/serviceerr"
	"github.com/marko-app/marko/pkg/api"
	"github.com/marko-app/marko/pkg/authbridge"
	"github.com/marko-app/marko/pkg/identity"
	"github.com/marko-app/marko/pkg/tokenstore"
	tokenstoresealedfile "github.com/marko-app/marko/pkg/tokenstore/sealedfile"
	tokenstorevalkey "github.com/marko-app/marko/pkg/tokenstore/valkey"
)

// app is the client wired from configuration. Identity is nil when no
// identity provider is configured; the backend is then called without a
// session.
type app struct {
	tokens   *tokenstore.Store
	identity *identity.Client
	api      *api.Client
}

var errNoIdentity = serviceerr.New(serviceerr.CodeValidation, "identity url is not configured")

func (a *app) requireIdentity() (*identity.Client, error) {
	if a.identity == nil {
		return nil, errNoIdentity
	}
	return a.identity, nil
}

func initApp(ctx context.Context, cfg *config.Config) (_ *app, closeFn func(), _ error) {
	backend, closeBackend, err := newTokenBackend(cfg.TokenStore)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising the token store: %w", err)
	}

	a := &app{
		tokens: tokenstore.New(backend, tokenstore.WithKey(cfg.TokenStore.Key)),
	}
	closers := []func(){closeBackend}
	closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Identity.URL != "" {
		anonKey, err := config.LoadOptional(cfg.Identity.AnonKey)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("loading identity anon key: %w", err)
		}

		a.identity, err = identity.NewClient(identity.Config{
			URL:          cfg.Identity.URL,
			APIKey:       anonKey,
			Storage:      backend,
			StorageKey:   cfg.Identity.StorageKey,
			ExpiryMargin: cfg.Identity.ExpiryMargin,
		})
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("creating identity client: %w", err)
		}

		unsubscribe := authbridge.New(a.identity, a.tokens).Start(ctx)
		closers = append(closers, unsubscribe)
	} else {
		slogctx.Debug(ctx, "No identity provider configured, using the stored token as is")
	}

	httpClient, err := loadHTTPClient(cfg.API)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	policy := api.Policy(cfg.API.Policy)
	a.api, err = api.NewClient(ctx, api.Config{
		BaseURL:     cfg.API.BaseURL,
		HTTPClient:  httpClient,
		Tokens:      a.tokens,
		Policy:      &policy,
		Application: cfg.Application,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating api client: %w", err)
	}

	return a, closeFn, nil
}

func newTokenBackend(cfg config.TokenStore) (_ tokenstore.Backend, closeFn func(), _ error) {
	switch cfg.Backend {
	case config.TokenStoreFile, "":
		ageIdentity, err := loadAgeIdentity(cfg.File)
		if err != nil {
			return nil, nil, err
		}

		backend, err := tokenstoresealedfile.NewBackend(os.ExpandEnv(cfg.File.Path), ageIdentity)
		if err != nil {
			return nil, nil, fmt.Errorf("creating sealed file backend: %w", err)
		}
		return backend, func() {}, nil
	case config.TokenStoreValkey:
		valkeyOpts, err := config.MakeValkeyOptions(cfg.ValKey)
		if err != nil {
			return nil, nil, fmt.Errorf("making valkey options: %w", err)
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
		}
		return tokenstorevalkey.NewBackend(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}

func loadAgeIdentity(cfg config.SealedFile) (*age.X25519Identity, error) {
	inline, err := config.LoadOptional(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("loading sealed file identity: %w", err)
	}
	if inline != "" {
		return tokenstoresealedfile.ParseIdentity(inline)
	}

	path := os.ExpandEnv(cfg.IdentityPath)
	if path == "" {
		return nil, errors.New("sealed file identity or identity path is required")
	}
	return tokenstoresealedfile.LoadOrCreateIdentity(path)
}

func loadHTTPClient(cfg config.API) (*http.Client, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.MTLS == nil {
		return client, nil
	}

	tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.MTLS)
	if err != nil {
		return nil, fmt.Errorf("loading mTLS config: %w", err)
	}

	client.Transport = &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return client, nil
}
