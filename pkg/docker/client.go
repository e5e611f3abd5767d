package docker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docker/docker/client"

	"github.com/api7/imagecheck/pkg/logger"
)

// Engine wraps the Docker API client with the primitives the validator
// and the CI pipeline need: image inspection, ephemeral command execution,
// detached runs, log collection and container removal.
type Engine struct {
	cli *client.Client
}

// DetectDockerHost returns the Docker host, honoring DOCKER_HOST and
// falling back to the rootless socket for the current user when the
// default socket is absent.
func DetectDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		return "unix:///var/run/docker.sock"
	}
	return fmt.Sprintf("unix:///run/user/%d/docker.sock", os.Getuid())
}

// NewEngine creates a Docker client with API version negotiation.
func NewEngine() (*Engine, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(DetectDockerHost()),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing Docker client: %w", err)
	}

	logger.Debug("Docker client initialized", "host", DetectDockerHost())
	return &Engine{cli: cli}, nil
}

// Ping verifies the daemon is reachable. The validator treats a failure
// here as a fatal setup error, distinct from any check result.
func (e *Engine) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("cannot connect to Docker daemon: %w", err)
	}
	return nil
}

// Close releases the underlying client connection.
func (e *Engine) Close() error {
	return e.cli.Close()
}
