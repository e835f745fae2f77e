// Package valkeytest starts a throwaway Valkey container for tests.
package valkeytest

import (
	"context"
	"net"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
)

const image = "valkey/valkey:8-alpine"

// Start runs a Valkey container for the lifetime of t and returns a client
// connected to it. Tests using it are skipped with -short.
func Start(t testing.TB) valkey.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("valkey container tests are skipped in short mode")
	}

	ctx := t.Context()
	container, err := valkeycontainer.Run(ctx, image)
	if err != nil {
		t.Fatalf("starting valkey container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.WithoutCancel(ctx)); err != nil {
			t.Errorf("terminating valkey container: %v", err)
		}
	})

	port, err := container.MappedPort(ctx, nat.Port("6379"))
	if err != nil {
		t.Fatalf("mapping valkey port: %v", err)
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{net.JoinHostPort("localhost", port.Port())},
	})
	if err != nil {
		t.Fatalf("creating valkey client: %v", err)
	}
	t.Cleanup(client.Close)

	return client
}
