package tokenstorevalkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/marko-app/marko/pkg/tokenstore"
)

// Backend keeps values under "<prefix>:<key>" in Valkey.
type Backend struct {
	valkey valkey.Client
	prefix string
}

var _ = tokenstore.Backend(&Backend{})

func NewBackend(valkeyClient valkey.Client, prefix string) *Backend {
	prefix = strings.TrimSuffix(prefix, ":")
	return &Backend{
		valkey: valkeyClient,
		prefix: prefix,
	}
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.valkey.Do(ctx, b.valkey.B().Get().Key(b.key(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("executing get command: %w", err)
	}

	return value, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	if err := b.valkey.Do(ctx, b.valkey.B().Set().Key(b.key(key)).Value(value).Build()).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.valkey.Do(ctx, b.valkey.B().Del().Key(b.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (b *Backend) key(key string) string {
	if b.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", b.prefix, key)
}
