// Package testutil provides container-backed services for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ValkeyServer is a Valkey instance running in a test container.
type ValkeyServer struct {
	container testcontainers.Container
	address   string
}

// NewValkeyServer starts a Valkey container and waits for it to accept
// connections. The image can be overridden with TEST_VALKEY_IMAGE.
//
// Example usage:
//
//	server, err := testutil.NewValkeyServer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer server.Close(ctx)
func NewValkeyServer(ctx context.Context) (*ValkeyServer, error) {
	image := os.Getenv("TEST_VALKEY_IMAGE")
	if image == "" {
		image = "valkey/valkey:8-alpine"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start valkey container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &ValkeyServer{
		container: container,
		address:   fmt.Sprintf("%s:%s", host, port.Port()),
	}, nil
}

// Address returns the host:port the server listens on.
func (v *ValkeyServer) Address() string {
	return v.address
}

// Close terminates the container.
func (v *ValkeyServer) Close(ctx context.Context) error {
	if v.container == nil {
		return nil
	}
	if err := v.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate valkey container: %w", err)
	}
	return nil
}
