package validator

import (
	"context"
	"fmt"

	"github.com/api7/imagecheck/internal/config"
	"github.com/api7/imagecheck/pkg/logger"
)

// Validator runs the fixed sequence of checks against a target image.
// It is stateless across invocations; everything lives in the Report.
type Validator struct {
	Image   string
	Config  *config.Config
	Engine  Engine
	Scanner Scanner
}

// New builds a Validator. Scanner may be nil; the vulnerability check then
// degrades to a skip.
func New(image string, cfg *config.Config, engine Engine, scan Scanner) *Validator {
	return &Validator{
		Image:   image,
		Config:  cfg,
		Engine:  engine,
		Scanner: scan,
	}
}

// Run validates the image and returns the report. An error is returned
// only for setup failures (engine unreachable, image absent); check
// failures are recorded in the report, never returned as errors, so the
// report is always exhaustive.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	if err := v.Engine.Ping(ctx); err != nil {
		return nil, err
	}

	exists, err := v.Engine.ImageExists(ctx, v.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to query image store: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("image not found: %s", v.Image)
	}

	report := NewReport(v.Image)
	if info, err := v.Engine.InspectImage(ctx, v.Image); err == nil {
		report.ImageID = info.ID
		report.ImageSize = info.Size
	}

	// Fixed order, every check runs exactly once regardless of prior
	// outcomes: the report is exhaustive, not short-circuiting.
	checks := []func(context.Context) CheckResult{
		v.checkCriticalPaths,
		v.checkLibraries,
		v.checkBinaryDeps,
		v.checkVersion,
		v.checkStartup,
		v.checkVulnScan,
	}

	for _, check := range checks {
		result := check(ctx)
		report.Add(result)
		switch result.Status {
		case Fail:
			logger.Error("Check failed", "check", result.Name)
		case Warn:
			logger.Warn("Check produced warnings", "check", result.Name)
		default:
			logger.Info("Check passed", "check", result.Name)
		}
	}

	return report, nil
}

// removeContainer is the shared cleanup path for check-scoped containers.
// It runs on a detached context so cleanup still happens when the run
// context was canceled mid-check.
func (v *Validator) removeContainer(ctx context.Context, containerID string) {
	if err := v.Engine.Remove(context.WithoutCancel(ctx), containerID); err != nil {
		logger.Warn("Failed to remove probe container", "container_id", containerID, "error", err)
	}
}
