package location_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marko-app/marko/internal/serviceerr"
	"github.com/marko-app/marko/pkg/api"
	"github.com/marko-app/marko/pkg/location"
)

type recordingPoster struct {
	updates []api.LocationUpdate
	resp    json.RawMessage
	err     error
}

func (p *recordingPoster) PostLocationUpdate(_ context.Context, u api.LocationUpdate) (json.RawMessage, error) {
	p.updates = append(p.updates, u)
	return p.resp, p.err
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    location.Status
		wantErr bool
	}{
		{in: "arrived", want: location.StatusArrived},
		{in: "left", want: location.StatusLeft},
		{in: " Arrived ", want: location.StatusArrived},
		{in: "departed", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := location.ParseStatus(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, serviceerr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateCurrentCountry(t *testing.T) {
	tests := []struct {
		name    string
		country string
		want    string
	}{
		{name: "upper case code", country: "US", want: "US"},
		{name: "lower case code", country: "de", want: "DE"},
		{name: "surrounding space", country: " fr\n", want: "FR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := &recordingPoster{resp: json.RawMessage(`{"message":"ok"}`)}

			resp, err := location.UpdateCurrentCountry(t.Context(), location.StaticResolver(tt.country), poster, location.StatusArrived)

			require.NoError(t, err)
			assert.JSONEq(t, `{"message":"ok"}`, string(resp))
			require.Len(t, poster.updates, 1)
			assert.Equal(t, api.LocationUpdate{CountryCode: tt.want, Status: "arrived"}, poster.updates[0])
		})
	}
}

func TestUpdateCurrentCountry_Failures(t *testing.T) {
	t.Run("unknown country", func(t *testing.T) {
		poster := &recordingPoster{}

		_, err := location.UpdateCurrentCountry(t.Context(), location.StaticResolver(""), poster, location.StatusLeft)

		assert.ErrorIs(t, err, location.ErrUnknownCountry)
		assert.Contains(t, err.Error(), "unable to determine country")
		assert.Empty(t, poster.updates)
	})

	t.Run("resolver failure", func(t *testing.T) {
		poster := &recordingPoster{}
		resolver := location.ResolverFunc(func(context.Context) (string, error) {
			return "", errors.New("location permission not granted")
		})

		_, err := location.UpdateCurrentCountry(t.Context(), resolver, poster, location.StatusArrived)

		assert.ErrorContains(t, err, "location permission not granted")
		assert.Empty(t, poster.updates)
	})

	t.Run("invalid status", func(t *testing.T) {
		poster := &recordingPoster{}

		_, err := location.UpdateCurrentCountry(t.Context(), location.StaticResolver("US"), poster, location.Status("moved"))

		assert.ErrorIs(t, err, serviceerr.ErrValidation)
		assert.Empty(t, poster.updates)
	})

	t.Run("backend failure is returned", func(t *testing.T) {
		poster := &recordingPoster{err: serviceerr.New(serviceerr.CodeNetwork, "unreachable")}

		_, err := location.UpdateCurrentCountry(t.Context(), location.StaticResolver("US"), poster, location.StatusArrived)

		assert.ErrorIs(t, err, serviceerr.ErrNetwork)
	})
}
