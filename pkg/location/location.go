// Package location reports the country the user arrived in or left.
// Finding the country is left to a Resolver; the platform positioning and
// reverse geocoding behind it are outside this package.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/marko-app/marko/internal/serviceerr"
	"github.com/marko-app/marko/pkg/api"
)

type Status string

const (
	StatusArrived Status = "arrived"
	StatusLeft    Status = "left"
)

var ErrUnknownCountry = serviceerr.New(serviceerr.CodeValidation, "unable to determine country")

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusArrived, StatusLeft:
		return st, nil
	default:
		return "", serviceerr.New(serviceerr.CodeValidation, fmt.Sprintf("unknown status %q, expected arrived or left", s))
	}
}

// Resolver finds the country the device is in, as an ISO 3166-1 alpha-2
// code or a country name.
type Resolver interface {
	CurrentCountry(ctx context.Context) (string, error)
}

type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) CurrentCountry(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticResolver always reports the same country.
type StaticResolver string

func (r StaticResolver) CurrentCountry(context.Context) (string, error) {
	return string(r), nil
}

type Poster interface {
	PostLocationUpdate(ctx context.Context, update api.LocationUpdate) (json.RawMessage, error)
}

var _ Poster = (*api.Client)(nil)

// UpdateCurrentCountry resolves the current country and posts it with
// status. It returns the backend response as sent.
func UpdateCurrentCountry(ctx context.Context, resolver Resolver, poster Poster, status Status) (json.RawMessage, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	country, err := resolver.CurrentCountry(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving current country: %w", err)
	}

	code := strings.ToUpper(strings.TrimSpace(country))
	if code == "" {
		return nil, ErrUnknownCountry
	}

	slogctx.Info(ctx, "Posting location update", "country_code", code, "status", status)

	return poster.PostLocationUpdate(ctx, api.LocationUpdate{
		CountryCode: code,
		Status:      string(status),
	})
}
