package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/serviceerr"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 500 * time.Millisecond

	focusConcurrency = 4

	// sharedFetchTimeout bounds a fetch once it no longer follows the
	// cancellation of the caller that started it.
	sharedFetchTimeout = 2 * time.Minute
)

// Policy controls how read queries are cached and revalidated.
type Policy struct {
	// RevalidateOnFocus makes Focus re-fetch every cached query.
	RevalidateOnFocus bool
	// RetryOnError retries reads that failed with a network error. Other
	// failures are never retried.
	RetryOnError  bool
	MaxRetries    uint64
	RetryInterval time.Duration
	// CacheTTL bounds how long a query result is served without a fetch.
	CacheTTL time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		RevalidateOnFocus: true,
		RetryOnError:      false,
		MaxRetries:        DefaultMaxRetries,
		RetryInterval:     DefaultRetryInterval,
		CacheTTL:          DefaultCacheTTL,
	}
}

// QueryState is the last known state of a read query. A failed fetch keeps
// the data of the last successful one.
type QueryState struct {
	Data      any
	Err       error
	UpdatedAt time.Time
	Fetches   int
}

type fetchFunc func(ctx context.Context) (any, error)

type entry struct {
	state   QueryState
	hasData bool
	fetch   fetchFunc
}

// version identifies the cache generation a fetch started in. A result is
// only recorded when no invalidation happened while it was in flight.
type version struct {
	epoch uint64
	gen   uint64
}

type queries struct {
	policy Policy
	cache  *cache.Cache
	group  singleflight.Group
	now    func() time.Time

	// mu guards the entries stored in cache and the versions below.
	mu    sync.Mutex
	epoch uint64
	gens  map[string]uint64
}

func newQueries(policy Policy) *queries {
	if policy.CacheTTL <= 0 {
		policy.CacheTTL = DefaultCacheTTL
	}
	if policy.RetryInterval <= 0 {
		policy.RetryInterval = DefaultRetryInterval
	}

	return &queries{
		policy: policy,
		cache:  cache.New(policy.CacheTTL, 2*policy.CacheTTL),
		now:    time.Now,
		gens:   map[string]uint64{},
	}
}

// query serves key from the cache, fetching it when it is missing, expired
// or failed last time. Concurrent callers of the same key share one fetch.
func query[T any](ctx context.Context, q *queries, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if e, ok := q.lookup(key); ok && e.hasData && e.state.Err == nil {
		//nolint:forcetypeassert
		return e.state.Data.(T), nil
	}

	v, err := q.load(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}

	//nolint:forcetypeassert
	return v.(T), nil
}

// load runs one fetch per key and version. Callers share it; a caller
// giving up does not cancel the fetch for the others.
func (q *queries) load(ctx context.Context, key string, fetch fetchFunc) (any, error) {
	v := q.version(key)

	ch := q.group.DoChan(fmt.Sprintf("%s#%d.%d", key, v.epoch, v.gen), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()

		data, err := q.fetchWithPolicy(fetchCtx, key, fetch)
		q.record(key, v, fetch, data, err)
		return data, err
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
	}
}

func (q *queries) version(key string) version {
	q.mu.Lock()
	defer q.mu.Unlock()
	return version{epoch: q.epoch, gen: q.gens[key]}
}

func (q *queries) fetchWithPolicy(ctx context.Context, key string, fetch fetchFunc) (any, error) {
	if !q.policy.RetryOnError {
		return fetch(ctx)
	}

	var data any
	operation := func() error {
		v, err := fetch(ctx)
		if err != nil {
			if !serviceerr.IsCode(err, serviceerr.CodeNetwork) {
				return backoff.Permanent(err)
			}
			return err
		}
		data = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.policy.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, q.policy.MaxRetries), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		slogctx.Warn(ctx, "Retrying query", "key", key, "in", next, "error", err)
	})
	return data, err
}

func (q *queries) record(key string, v version, fetch fetchFunc, data any, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// invalidated while in flight
	if v.epoch != q.epoch || v.gen != q.gens[key] {
		return
	}

	e := &entry{}
	if old, ok := q.cache.Get(key); ok {
		//nolint:forcetypeassert
		*e = *old.(*entry)
	}

	e.fetch = fetch
	e.state.Fetches++
	e.state.Err = err
	if err == nil {
		e.state.Data = data
		e.state.UpdatedAt = q.now()
		e.hasData = true
	}

	q.cache.SetDefault(key, e)
}

func (q *queries) lookup(key string) (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.cache.Get(key)
	if !ok {
		return entry{}, false
	}
	//nolint:forcetypeassert
	return *v.(*entry), true
}

func (q *queries) state(key string) (QueryState, bool) {
	e, ok := q.lookup(key)
	return e.state, ok
}

// focus re-fetches every cached query.
func (q *queries) focus(ctx context.Context) error {
	if !q.policy.RevalidateOnFocus {
		return nil
	}

	keys := slices.Sorted(maps.Keys(q.cache.Items()))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(focusConcurrency)
	for _, key := range keys {
		e, ok := q.lookup(key)
		if !ok || e.fetch == nil {
			continue
		}
		g.Go(func() error {
			if _, err := q.load(gctx, key, e.fetch); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("revalidating %s: %w", key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (q *queries) invalidate(keys ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, k := range keys {
		q.gens[k]++
		q.cache.Delete(k)
	}
}

func (q *queries) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.epoch++
	clear(q.gens)
	q.cache.Flush()
}
