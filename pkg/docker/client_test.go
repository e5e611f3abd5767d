package docker

import (
	"strings"
	"testing"
)

func TestDetectDockerHostFromEnv(t *testing.T) {
	t.Setenv("DOCKER_HOST", "unix:///custom/docker.sock")

	if got := DetectDockerHost(); got != "unix:///custom/docker.sock" {
		t.Errorf("DetectDockerHost() = %q, want DOCKER_HOST value", got)
	}
}

func TestDetectDockerHostFallback(t *testing.T) {
	t.Setenv("DOCKER_HOST", "")

	got := DetectDockerHost()
	if !strings.HasPrefix(got, "unix://") {
		t.Errorf("DetectDockerHost() = %q, want a unix socket URL", got)
	}
}

func TestEphemeralName(t *testing.T) {
	a, b := ephemeralName(), ephemeralName()
	if !strings.HasPrefix(a, "imagecheck-") {
		t.Errorf("ephemeralName() = %q, want imagecheck- prefix", a)
	}
	if a == b {
		t.Error("ephemeral names must be unique across calls")
	}
}
