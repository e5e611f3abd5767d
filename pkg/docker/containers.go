package docker

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/api7/imagecheck/pkg/logger"
)

// ephemeralName returns a unique container name so repeated local runs
// never collide with leftovers from an interrupted one.
func ephemeralName() string {
	return "imagecheck-" + uuid.NewString()[:8]
}

// StartEphemeral creates and starts a container whose entrypoint is
// overridden with a long sleep. Checks exec their probes inside it and
// must remove it with Remove when done.
func (e *Engine) StartEphemeral(ctx context.Context, image string) (string, error) {
	resp, err := e.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:      image,
			Entrypoint: strslice.StrSlice{"sleep"},
			Cmd:        strslice.StrSlice{"300"},
		},
		&container.HostConfig{},
		&network.NetworkingConfig{},
		nil,
		ephemeralName(),
	)
	if err != nil {
		return "", fmt.Errorf("container creation failed: %w", err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Creation succeeded but start did not; don't leak the container.
		_ = e.Remove(context.WithoutCancel(ctx), resp.ID)
		return "", fmt.Errorf("could not start container: %w", err)
	}

	logger.Debug("Ephemeral container started", "container_id", resp.ID, "image", image)
	return resp.ID, nil
}

// RunDetached creates and starts a container from the image with its own
// entrypoint, detached. Used by the startup probe.
func (e *Engine) RunDetached(ctx context.Context, image string) (string, error) {
	resp, err := e.cli.ContainerCreate(
		ctx,
		&container.Config{Image: image},
		&container.HostConfig{},
		&network.NetworkingConfig{},
		nil,
		ephemeralName(),
	)
	if err != nil {
		return "", fmt.Errorf("container creation failed: %w", err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.Remove(context.WithoutCancel(ctx), resp.ID)
		return "", fmt.Errorf("could not start container: %w", err)
	}

	logger.Debug("Detached container started", "container_id", resp.ID, "image", image)
	return resp.ID, nil
}

// parsePortSpecs turns "hostPort:containerPort[/proto]" specs into the
// binding maps the daemon expects. Proto defaults to tcp.
func parsePortSpecs(portSpecs []string) (nat.PortMap, nat.PortSet, error) {
	portBindings := nat.PortMap{}
	exposedPorts := nat.PortSet{}
	for _, spec := range portSpecs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid port specification %q, expected hostPort:containerPort[/proto]", spec)
		}
		containerPart := parts[1]
		proto := "tcp"
		if idx := strings.Index(containerPart, "/"); idx != -1 {
			proto = containerPart[idx+1:]
			containerPart = containerPart[:idx]
		}
		if parts[0] == "" || containerPart == "" || strings.Contains(containerPart, ":") {
			return nil, nil, fmt.Errorf("invalid port specification %q, expected hostPort:containerPort[/proto]", spec)
		}
		port := nat.Port(containerPart + "/" + proto)
		portBindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: parts[0]}}
		exposedPorts[port] = struct{}{}
	}
	return portBindings, exposedPorts, nil
}

// RunDetachedWithPorts is RunDetached with host port bindings, used by the
// smoke step of the CI pipeline.
func (e *Engine) RunDetachedWithPorts(ctx context.Context, image string, portSpecs []string) (string, error) {
	portBindings, exposedPorts, err := parsePortSpecs(portSpecs)
	if err != nil {
		return "", err
	}

	resp, err := e.cli.ContainerCreate(
		ctx,
		&container.Config{Image: image, ExposedPorts: exposedPorts},
		&container.HostConfig{PortBindings: portBindings},
		&network.NetworkingConfig{},
		nil,
		ephemeralName(),
	)
	if err != nil {
		return "", fmt.Errorf("container creation failed: %w", err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.Remove(context.WithoutCancel(ctx), resp.ID)
		return "", fmt.Errorf("could not start container: %w", err)
	}

	logger.Debug("Smoke container started", "container_id", resp.ID, "image", image, "ports", strings.Join(portSpecs, ","))
	return resp.ID, nil
}

// Exec runs a command inside a running container and returns its combined
// output and exit code.
func (e *Engine) Exec(ctx context.Context, containerID string, cmd []string) (string, int, error) {
	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", -1, fmt.Errorf("exec create failed: %w", err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", -1, fmt.Errorf("exec attach failed: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", -1, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", -1, fmt.Errorf("exec inspect failed: %w", err)
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += stderr.String()
	}
	return output, inspect.ExitCode, nil
}

// IsRunning reports whether the container is currently in the running state.
func (e *Engine) IsRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, err
	}
	return info.State.Running, nil
}

// Logs returns the container's combined stdout/stderr logs.
func (e *Engine) Logs(ctx context.Context, containerID string) (string, error) {
	containerLogs, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer containerLogs.Close()

	// Log streams are multiplexed the same way exec output is.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, containerLogs); err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return stdout.String() + stderr.String(), nil
}

// Remove force-removes a container, running or not.
func (e *Engine) Remove(ctx context.Context, containerID string) error {
	err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		return err
	}
	logger.Debug("Container removed", "container_id", containerID)
	return nil
}
