// Package push hands the device push token to the backend. The backend has
// no registration endpoint yet, so the only Registrar logs the token.
package push

import (
	"context"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/serviceerr"
)

type Registrar interface {
	Register(ctx context.Context, pushToken string) error
}

// LogRegistrar records the token in the log and nothing else.
type LogRegistrar struct{}

var _ Registrar = LogRegistrar{}

func (LogRegistrar) Register(ctx context.Context, pushToken string) error {
	if pushToken == "" {
		return serviceerr.New(serviceerr.CodeValidation, "push token is required")
	}

	// TODO: post the token once the backend exposes a registration endpoint.
	slogctx.Info(ctx, "Push token ready for registration", "push_token", pushToken)
	return nil
}
