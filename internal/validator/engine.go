package validator

import (
	"context"

	"github.com/api7/imagecheck/internal/scanner"
	"github.com/api7/imagecheck/pkg/docker"
)

// Engine is the container-engine contract the checks run against. Checks
// are pure functions of (config, engine), so tests substitute a fake.
type Engine interface {
	// Ping verifies the engine is reachable; a failure is a setup error.
	Ping(ctx context.Context) error

	// Image store.
	ImageExists(ctx context.Context, imageRef string) (bool, error)
	InspectImage(ctx context.Context, imageRef string) (docker.ImageInfo, error)

	// Ephemeral containers. StartEphemeral keeps the container alive with
	// an overridden entrypoint so probes can exec inside it; RunDetached
	// starts the image's own entrypoint for the startup probe.
	StartEphemeral(ctx context.Context, image string) (string, error)
	Exec(ctx context.Context, containerID string, cmd []string) (string, int, error)
	RunDetached(ctx context.Context, image string) (string, error)

	IsRunning(ctx context.Context, containerID string) (bool, error)
	Logs(ctx context.Context, containerID string) (string, error)
	Remove(ctx context.Context, containerID string) error
}

// Scanner is the opaque vulnerability scanner consumed by the last check.
type Scanner interface {
	Installed() bool
	Scan(ctx context.Context, image, severities string) (scanner.Result, error)
}
