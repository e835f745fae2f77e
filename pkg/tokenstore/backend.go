package tokenstore

import "context"

// Backend is the durable key-value storage behind a Store. A missing key is
// reported as ok == false with a nil error.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
