package api_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marko-app/marko/internal/serviceerr"
	"github.com/marko-app/marko/pkg/api"
)

func TestDefaultPolicy(t *testing.T) {
	p := api.DefaultPolicy()

	assert.True(t, p.RevalidateOnFocus)
	assert.False(t, p.RetryOnError)
}

func TestQuery_CachedUntilFocus(t *testing.T) {
	f := startFakeBackend(t)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	_, err := c.Groups(ctx)
	require.NoError(t, err)
	_, err = c.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyGroups), "second read is served from the cache")

	require.NoError(t, c.Focus(ctx))
	assert.Equal(t, 2, f.count(http.MethodGet, api.KeyGroups))

	state, ok := c.State(api.KeyGroups)
	require.True(t, ok)
	assert.Equal(t, 2, state.Fetches)
	assert.NoError(t, state.Err)
}

func TestQuery_FocusDisabled(t *testing.T) {
	f := startFakeBackend(t)
	c := newTestClient(t, f, nil, &api.Policy{RevalidateOnFocus: false})
	ctx := t.Context()

	_, err := c.Notifications(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Focus(ctx))

	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyNotifications))
}

func TestQuery_FocusRevalidatesEveryQuery(t *testing.T) {
	f := startFakeBackend(t)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	_, err := c.Groups(ctx)
	require.NoError(t, err)
	_, err = c.Notifications(ctx)
	require.NoError(t, err)
	_, err = c.GroupMembers(ctx, "g1")
	require.NoError(t, err)

	require.NoError(t, c.Focus(ctx))

	assert.Equal(t, 2, f.count(http.MethodGet, api.KeyGroups))
	assert.Equal(t, 2, f.count(http.MethodGet, api.KeyNotifications))
	assert.Equal(t, 2, f.count(http.MethodGet, api.MembersKey("g1")))
}

func TestQuery_FailedReadIsNotRetried(t *testing.T) {
	f := startFakeBackend(t)
	f.respond(http.MethodGet, api.KeyGroups, http.StatusServiceUnavailable, `{"error":"maintenance"}`)
	c := newTestClient(t, f, nil, nil)

	_, err := c.Groups(t.Context())
	require.ErrorIs(t, err, serviceerr.ErrNetwork)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyGroups))

	state, ok := c.State(api.KeyGroups)
	require.True(t, ok)
	assert.ErrorIs(t, state.Err, serviceerr.ErrNetwork)
	assert.Nil(t, state.Data)
}

func TestQuery_FailureKeepsStaleData(t *testing.T) {
	f := startFakeBackend(t)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	groups, err := c.Groups(ctx)
	require.NoError(t, err)

	f.respond(http.MethodGet, api.KeyGroups, http.StatusInternalServerError, `{"error":"boom"}`)
	err = c.Focus(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	state, ok := c.State(api.KeyGroups)
	require.True(t, ok)
	assert.Equal(t, groups, state.Data)
	assert.ErrorIs(t, state.Err, serviceerr.ErrNetwork)

	_, err = c.Groups(ctx)
	assert.Error(t, err, "an explicit read after a failure fetches again")
	assert.Equal(t, 3, f.count(http.MethodGet, api.KeyGroups))
}

func TestQuery_RetryOnError(t *testing.T) {
	policy := api.DefaultPolicy()
	policy.RetryOnError = true
	policy.RetryInterval = time.Millisecond

	t.Run("network errors are retried", func(t *testing.T) {
		f := startFakeBackend(t)
		f.respond(http.MethodGet, api.KeyNotifications, http.StatusBadGateway, ``,
			response{status: http.StatusBadGateway},
			response{status: http.StatusOK, body: `[]`},
		)
		c := newTestClient(t, f, nil, &policy)

		got, err := c.Notifications(t.Context())

		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, 3, f.count(http.MethodGet, api.KeyNotifications))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		f := startFakeBackend(t)
		f.respond(http.MethodGet, api.KeyNotifications, http.StatusUnauthorized, `{"error":"Invalid token"}`)
		c := newTestClient(t, f, nil, &policy)

		_, err := c.Notifications(t.Context())

		assert.ErrorIs(t, err, serviceerr.ErrUnauthorized)
		assert.Equal(t, 1, f.count(http.MethodGet, api.KeyNotifications))
	})

	t.Run("retries are bounded", func(t *testing.T) {
		f := startFakeBackend(t)
		f.respond(http.MethodGet, api.KeyNotifications, http.StatusBadGateway, ``)
		c := newTestClient(t, f, nil, &policy)

		_, err := c.Notifications(t.Context())

		assert.ErrorIs(t, err, serviceerr.ErrNetwork)
		assert.Equal(t, int(policy.MaxRetries)+1, f.count(http.MethodGet, api.KeyNotifications))
	})
}

func TestQuery_MutationsInvalidate(t *testing.T) {
	f := startFakeBackend(t)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	_, err := c.Groups(ctx)
	require.NoError(t, err)
	_, err = c.GroupMembers(ctx, "g1")
	require.NoError(t, err)
	_, err = c.Notifications(ctx)
	require.NoError(t, err)

	_, err = c.CreateGroup(ctx, "x")
	require.NoError(t, err)
	_, err = c.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(http.MethodGet, api.KeyGroups), "create invalidates the group list")

	_, err = c.JoinGroup(ctx, "g1")
	require.NoError(t, err)
	_, err = c.Groups(ctx)
	require.NoError(t, err)
	_, err = c.GroupMembers(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, f.count(http.MethodGet, api.KeyGroups), "join invalidates the group list")
	assert.Equal(t, 2, f.count(http.MethodGet, api.MembersKey("g1")), "join invalidates the member list")

	_, err = c.Notifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyNotifications), "unrelated queries stay cached")
}

func TestQuery_FailedMutationKeepsCache(t *testing.T) {
	f := startFakeBackend(t)
	f.respond(http.MethodPost, api.KeyGroups, http.StatusBadRequest, `{"error":"name is required"}`)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	_, err := c.Groups(ctx)
	require.NoError(t, err)

	_, err = c.CreateGroup(ctx, "")
	require.ErrorIs(t, err, serviceerr.ErrValidation)
	assert.Contains(t, err.Error(), "name is required")

	_, err = c.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyGroups))
}

func TestQuery_InvalidateAndReset(t *testing.T) {
	f := startFakeBackend(t)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	_, err := c.Groups(ctx)
	require.NoError(t, err)
	_, err = c.Notifications(ctx)
	require.NoError(t, err)

	c.Invalidate(api.KeyGroups)
	_, ok := c.State(api.KeyGroups)
	assert.False(t, ok)
	_, ok = c.State(api.KeyNotifications)
	assert.True(t, ok)

	c.Reset()
	_, ok = c.State(api.KeyNotifications)
	assert.False(t, ok)
}

func TestQuery_ConcurrentReadsShareOneFetch(t *testing.T) {
	f := startFakeBackend(t)
	gate := make(chan struct{})
	f.hold(gate)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			groups, err := c.Groups(ctx)
			assert.NoError(t, err)
			assert.Len(t, groups, 1)
		})
	}

	require.Eventually(t, func() bool {
		return f.count(http.MethodGet, api.KeyGroups) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyGroups))
}

func TestQuery_MutationDuringReadInvalidates(t *testing.T) {
	f := startFakeBackend(t)
	f.respond(http.MethodGet, api.KeyGroups, http.StatusOK,
		`{"groups":[{"id":"g1","name":"a"}]}`,
		response{status: http.StatusOK, body: `{"groups":[{"id":"g1","name":"a"},{"id":"g2","name":"x"}]}`},
	)
	gate := make(chan struct{})
	f.holdRoute(http.MethodGet, api.KeyGroups, gate)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	done := make(chan []api.Group, 1)
	go func() {
		groups, err := c.Groups(ctx)
		assert.NoError(t, err)
		done <- groups
	}()
	require.Eventually(t, func() bool {
		return f.count(http.MethodGet, api.KeyGroups) == 1
	}, time.Second, time.Millisecond)

	_, err := c.CreateGroup(ctx, "x")
	require.NoError(t, err)

	close(gate)
	assert.Len(t, <-done, 1, "the read in flight returns what it fetched")

	groups, err := c.Groups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	assert.Equal(t, 2, f.count(http.MethodGet, api.KeyGroups), "the pre-mutation result is not cached")
}

func TestQuery_ResetDuringReadDropsResult(t *testing.T) {
	f := startFakeBackend(t)
	gate := make(chan struct{})
	f.holdRoute(http.MethodGet, api.KeyGroups, gate)
	c := newTestClient(t, f, nil, nil)
	ctx := t.Context()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Groups(ctx)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		return f.count(http.MethodGet, api.KeyGroups) == 1
	}, time.Second, time.Millisecond)

	c.Reset()
	close(gate)
	<-done

	_, ok := c.State(api.KeyGroups)
	assert.False(t, ok)
}

func TestQuery_CancelledReaderDoesNotFailOthers(t *testing.T) {
	f := startFakeBackend(t)
	gate := make(chan struct{})
	f.holdRoute(http.MethodGet, api.KeyGroups, gate)
	c := newTestClient(t, f, nil, nil)

	firstCtx, cancelFirst := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Groups(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		return f.count(http.MethodGet, api.KeyGroups) == 1
	}, time.Second, time.Millisecond)

	second := make(chan []api.Group, 1)
	go func() {
		groups, err := c.Groups(t.Context())
		assert.NoError(t, err)
		second <- groups
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate)
	assert.Len(t, <-second, 1)
	assert.Equal(t, 1, f.count(http.MethodGet, api.KeyGroups), "the shared fetch is not cancelled")
}
