package identity

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultAutoRefreshInterval = 30 * time.Second

	// autoRefreshTicks is how many ticks ahead of expiry a session is refreshed.
	autoRefreshTicks = 3
)

// StartAutoRefresh refreshes the session whenever it gets within three
// intervals of its expiry. A non-positive interval means
// DefaultAutoRefreshInterval. It blocks until ctx is done.
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultAutoRefreshInterval
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if err := c.refreshIfExpiring(ctx, autoRefreshTicks*interval); err != nil {
			slogctx.Error(ctx, "Failed to refresh the session", "error", err)
		}

		select {
		case <-tick.C:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) refreshIfExpiring(ctx context.Context, within time.Duration) error {
	s, err := c.loadSession(ctx)
	if err != nil || s == nil {
		return err
	}
	if !s.ExpiresWithin(c.now(), max(within, c.margin)) {
		return nil
	}

	slogctx.Debug(ctx, "Triggering session refresh", "expires_at", s.Expiry())
	_, err = c.refresh(ctx, s.RefreshToken)
	if isRejected(err) {
		return nil
	}
	return err
}
