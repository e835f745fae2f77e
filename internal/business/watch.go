package business

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/config"
	"github.com/marko-app/marko/pkg/api"
)

// WatchMain keeps the session fresh and prints new notifications as JSON
// lines until the context ends.
func WatchMain(ctx context.Context, cfg *config.Config, _ []string) (any, error) {
	a, closeFn, err := initApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialising the client: %w", err)
	}
	defer closeFn()

	g, ctx := errgroup.WithContext(ctx)

	if a.identity != nil {
		g.Go(func() error {
			return a.identity.StartAutoRefresh(ctx, cfg.Identity.AutoRefreshInterval)
		})
	}

	g.Go(func() error {
		return watchNotifications(ctx, a.api, cfg.Watch.PollInterval, os.Stdout)
	})

	return nil, g.Wait()
}

const defaultPollInterval = 30 * time.Second

type notificationSource interface {
	Focus(ctx context.Context) error
	Notifications(ctx context.Context) ([]api.Notification, error)
}

var _ notificationSource = (*api.Client)(nil)

// watchNotifications revalidates the cached queries every interval and
// writes each notification not seen before to out. A non-positive interval
// means defaultPollInterval.
func watchNotifications(ctx context.Context, src notificationSource, interval time.Duration, out io.Writer) error {
	enc := json.NewEncoder(out)
	seen := map[string]bool{}

	tick := time.NewTicker(pollInterval(interval))
	defer tick.Stop()
	first := true
	for {
		if !first {
			if err := src.Focus(ctx); err != nil {
				slogctx.Warn(ctx, "Failed to revalidate queries", "error", err)
			}
		}
		first = false

		notifications, err := src.Notifications(ctx)
		if err != nil {
			slogctx.Error(ctx, "Failed to fetch notifications", "error", err)
		}
		for _, n := range notifications {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			if err := enc.Encode(n); err != nil {
				return fmt.Errorf("writing notification: %w", err)
			}
		}

		select {
		case <-tick.C:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

func pollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultPollInterval
	}
	return d
}
