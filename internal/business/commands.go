package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/config"
	"github.com/marko-app/marko/internal/serviceerr"
	"github.com/marko-app/marko/pkg/identity"
	"github.com/marko-app/marko/pkg/location"
	"github.com/marko-app/marko/pkg/push"
)

// SessionView is the printable form of a session. Tokens are left out.
type SessionView struct {
	SignedIn  bool       `json:"signedIn" yaml:"signedIn"`
	UserID    string     `json:"userId,omitempty" yaml:"userId,omitempty"`
	Email     string     `json:"email,omitempty" yaml:"email,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

type Message struct {
	Message string `json:"message" yaml:"message"`
}

func viewOf(s *identity.Session) SessionView {
	if s == nil {
		return SessionView{}
	}

	v := SessionView{
		SignedIn: true,
		UserID:   s.User.ID,
		Email:    s.User.Email,
	}
	if s.ExpiresAt != 0 {
		exp := s.Expiry()
		v.ExpiresAt = &exp
	}
	return v
}

// withApp runs fn against a client wired from cfg.
func withApp(ctx context.Context, cfg *config.Config, fn func(*app) (any, error)) (any, error) {
	a, closeFn, err := initApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	return fn(a)
}

func usage(format string) error {
	return serviceerr.New(serviceerr.CodeValidation, "usage: "+format)
}

func HealthMain(ctx context.Context, cfg *config.Config, _ []string) (any, error) {
	return withApp(ctx, cfg, func(a *app) (any, error) {
		return a.api.Health(ctx)
	})
}

// LoginMain signs in. With an email only it sends a magic link and code;
// with an email and password it signs in directly.
func LoginMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, usage("login <email> [password]")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		idp, err := a.requireIdentity()
		if err != nil {
			return nil, err
		}

		if len(args) == 2 {
			s, err := idp.SignInWithPassword(ctx, args[0], args[1])
			if err != nil {
				return nil, err
			}
			return viewOf(s), nil
		}

		if err := idp.SignInWithOTP(ctx, args[0]); err != nil {
			return nil, err
		}
		return Message{Message: fmt.Sprintf("Check %s for the sign in link or code", args[0])}, nil
	})
}

func VerifyMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) != 2 {
		return nil, usage("verify <email> <code>")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		idp, err := a.requireIdentity()
		if err != nil {
			return nil, err
		}

		s, err := idp.VerifyOTP(ctx, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return viewOf(s), nil
	})
}

// ExchangeMain completes a magic link sign in with the code from the
// redirect URL.
func ExchangeMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) != 1 {
		return nil, usage("exchange <auth-code>")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		idp, err := a.requireIdentity()
		if err != nil {
			return nil, err
		}

		s, err := idp.ExchangeCodeForSession(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return viewOf(s), nil
	})
}

func SignUpMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) != 2 {
		return nil, usage("signup <email> <password>")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		idp, err := a.requireIdentity()
		if err != nil {
			return nil, err
		}

		res, err := idp.SignUp(ctx, args[0], args[1])
		if err != nil {
			return nil, err
		}
		if res.Session == nil {
			return Message{Message: fmt.Sprintf("Check %s to confirm the account", res.User.Email)}, nil
		}
		return viewOf(res.Session), nil
	})
}

// LogoutMain signs out and drops every cached query.
func LogoutMain(ctx context.Context, cfg *config.Config, _ []string) (any, error) {
	return withApp(ctx, cfg, func(a *app) (any, error) {
		if a.identity != nil {
			if err := a.identity.SignOut(ctx); err != nil {
				return nil, err
			}
		}
		if err := a.tokens.Clear(ctx); err != nil {
			slogctx.Warn(ctx, "Failed to clear the stored token", "error", err)
		}
		a.api.Reset()

		return Message{Message: "Signed out"}, nil
	})
}

func WhoAmIMain(ctx context.Context, cfg *config.Config, _ []string) (any, error) {
	return withApp(ctx, cfg, func(a *app) (any, error) {
		idp, err := a.requireIdentity()
		if err != nil {
			return nil, err
		}

		s, err := idp.CurrentSession(ctx)
		if err != nil {
			return nil, err
		}
		return viewOf(s), nil
	})
}

func GroupsMain(ctx context.Context, cfg *config.Config, _ []string) (any, error) {
	return withApp(ctx, cfg, func(a *app) (any, error) {
		return a.api.Groups(ctx)
	})
}

func CreateGroupMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) != 1 {
		return nil, usage("groups create <name>")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		return a.api.CreateGroup(ctx, args[0])
	})
}

func JoinGroupMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) != 1 {
		return nil, usage("groups join <group-id>")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		return a.api.JoinGroup(ctx, args[0])
	})
}

func GroupMembersMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) != 1 {
		return nil, usage("groups members <group-id>")
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		return a.api.GroupMembers(ctx, args[0])
	})
}

func ActivityMain(ctx context.Context, cfg *config.Config, _ []string) (any, error) {
	return withApp(ctx, cfg, func(a *app) (any, error) {
		return a.api.Notifications(ctx)
	})
}

// LocationMain reports arriving in or leaving a country. The country is
// taken from the arguments, falling back to the configured one.
func LocationMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, usage("location <arrived|left> [country-code]")
	}

	status, err := location.ParseStatus(args[0])
	if err != nil {
		return nil, err
	}

	country := cfg.Location.Country
	if len(args) == 2 {
		country = args[1]
	}

	return withApp(ctx, cfg, func(a *app) (any, error) {
		return location.UpdateCurrentCountry(ctx, location.StaticResolver(country), a.api, status)
	})
}

// PushRegisterMain registers the push token given as argument, falling
// back to the configured one.
func PushRegisterMain(ctx context.Context, cfg *config.Config, args []string) (any, error) {
	if len(args) > 1 {
		return nil, usage("push register [token]")
	}

	token := cfg.Push.Token
	if len(args) == 1 {
		token = args[0]
	}
	return registerPush(ctx, push.LogRegistrar{}, token)
}

func registerPush(ctx context.Context, registrar push.Registrar, token string) (any, error) {
	if err := registrar.Register(ctx, token); err != nil {
		return nil, err
	}
	return Message{Message: "Push token registered"}, nil
}
