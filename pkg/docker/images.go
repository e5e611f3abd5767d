package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/api7/imagecheck/pkg/logger"
)

// ImageInfo is the subset of image metadata surfaced in the report header.
type ImageInfo struct {
	ID   string
	Size int64
}

// ImageExists checks if an image is present in the local image store.
func (e *Engine) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// InspectImage returns the ID and size of a local image.
func (e *Engine) InspectImage(ctx context.Context, imageRef string) (ImageInfo, error) {
	inspect, _, err := e.cli.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to inspect image %s: %w", imageRef, err)
	}
	return ImageInfo{ID: inspect.ID, Size: inspect.Size}, nil
}

// BuildImage builds an image from a local build context and tags it.
// Build output is streamed through the progress writer; a build step
// failure surfaces as an error.
func (e *Engine) BuildImage(ctx context.Context, contextDir, dockerfile, tag string, buildArgs map[string]*string, progress io.Writer) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to tar build context: %w", err)
	}
	defer buildCtx.Close()

	logger.Info("Building image", "tag", tag, "context", contextDir, "dockerfile", dockerfile)

	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		BuildArgs:  buildArgs,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}
	defer resp.Body.Close()

	if progress == nil {
		progress = io.Discard
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, progress, 0, false, nil); err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}

	return nil
}
