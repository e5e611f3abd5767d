package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/api7/imagecheck/internal/config"
	"github.com/api7/imagecheck/internal/scanner"
	"github.com/api7/imagecheck/internal/validator"
	"github.com/api7/imagecheck/pkg/docker"
	"github.com/api7/imagecheck/pkg/logger"
)

// Options configure one simulate-CI run.
type Options struct {
	ContextDir string
	Dockerfile string
	Tag        string

	// Build arguments passed through to the image build. The gateway
	// Dockerfile consumes the code path, the entrypoint script path and
	// the compression-library install script path.
	APISIXPath        string
	EntrypointPath    string
	InstallBrotliPath string

	// Publish holds "hostPort:containerPort[/proto]" specs for the smoke
	// step; empty means no smoke run.
	Publish []string

	SkipLint bool
	SkipScan bool
}

// Pipeline is the sequential local CI gate: build the image, validate it,
// lint the Dockerfile, scan for vulnerabilities.
type Pipeline struct {
	Engine  *docker.Engine
	Scanner *scanner.Trivy
	Config  *config.Config
}

// New assembles a pipeline around a connected engine.
func New(engine *docker.Engine, cfg *config.Config) *Pipeline {
	return &Pipeline{
		Engine:  engine,
		Scanner: &scanner.Trivy{},
		Config:  cfg,
	}
}

// BuildArgs returns the fixed build-argument set for the gateway image.
func (o Options) BuildArgs() map[string]*string {
	args := map[string]*string{}
	set := func(key, value string) {
		if value != "" {
			v := value
			args[key] = &v
		}
	}
	set("APISIX_PATH", o.APISIXPath)
	set("ENTRYPOINT_PATH", o.EntrypointPath)
	set("INSTALL_BROTLI_PATH", o.InstallBrotliPath)
	return args
}

// Run executes the pipeline steps in order and returns an error when the
// validation verdict is FAIL or the build itself broke. Lint and scan
// findings are reported but do not gate the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	if err := p.Engine.BuildImage(ctx, opts.ContextDir, opts.Dockerfile, opts.Tag, opts.BuildArgs(), os.Stdout); err != nil {
		return err
	}
	logger.Info("Image built", "tag", opts.Tag)

	v := validator.New(opts.Tag, p.Config, p.Engine, p.Scanner)
	report, err := v.Run(ctx)
	if err != nil {
		return err
	}
	report.Print(os.Stdout)

	if !opts.SkipLint {
		p.lintDockerfile(ctx, filepath.Join(opts.ContextDir, opts.Dockerfile))
	}
	if !opts.SkipScan {
		p.scanDockerfile(ctx, filepath.Join(opts.ContextDir, opts.Dockerfile))
	}

	if !report.Passed() {
		return fmt.Errorf("validation failed for %s: fix the issues above before deploying", opts.Tag)
	}

	if len(opts.Publish) > 0 {
		if err := p.smokeRun(ctx, opts.Tag, opts.Publish); err != nil {
			return err
		}
	}
	return nil
}

// smokeRun starts the built image with host port bindings and verifies it
// stays up through the settle window. Unlike the validator's startup
// probe, an early exit here is a hard failure: published ports mean the
// gateway is expected to serve.
func (p *Pipeline) smokeRun(ctx context.Context, image string, portSpecs []string) error {
	containerID, err := p.Engine.RunDetachedWithPorts(ctx, image, portSpecs)
	if err != nil {
		return fmt.Errorf("smoke run failed to start: %w", err)
	}
	defer func() {
		if err := p.Engine.Remove(context.WithoutCancel(ctx), containerID); err != nil {
			logger.Warn("Failed to remove smoke container", "container_id", containerID, "error", err)
		}
	}()

	select {
	case <-time.After(p.Config.SettleWindow()):
	case <-ctx.Done():
		return fmt.Errorf("smoke run interrupted: %w", ctx.Err())
	}

	running, err := p.Engine.IsRunning(ctx, containerID)
	if err != nil {
		return fmt.Errorf("smoke run inspect failed: %w", err)
	}
	if !running {
		if logs, logErr := p.Engine.Logs(ctx, containerID); logErr == nil {
			fmt.Fprint(os.Stdout, logs)
		}
		return fmt.Errorf("smoke run: container exited before the %s settle window elapsed", p.Config.SettleWindow())
	}

	logger.Info("Smoke run healthy", "image", image, "ports", len(portSpecs))
	return nil
}

// lintDockerfile runs hadolint when it is installed. Findings are
// advisory; a missing linter is only a warning.
func (p *Pipeline) lintDockerfile(ctx context.Context, dockerfile string) {
	if _, err := exec.LookPath("hadolint"); err != nil {
		logger.Warn("hadolint not installed, skipping Dockerfile lint")
		return
	}

	cmd := exec.CommandContext(ctx, "hadolint", dockerfile)
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn("Dockerfile lint reported findings", "dockerfile", dockerfile)
		fmt.Fprint(os.Stdout, string(output))
		return
	}
	logger.Info("Dockerfile lint clean", "dockerfile", dockerfile)
}

// scanDockerfile runs the scanner's misconfiguration mode against the
// Dockerfile itself.
func (p *Pipeline) scanDockerfile(ctx context.Context, dockerfile string) {
	if !p.Scanner.Installed() {
		logger.Warn("scanner not installed, skipping Dockerfile scan")
		return
	}

	result, err := p.Scanner.ConfigScan(ctx, dockerfile, scanner.DefaultSeverities)
	if err != nil {
		logger.Warn("Dockerfile scan failed", "error", err)
		return
	}
	if result.Clean {
		logger.Info("Dockerfile scan clean", "dockerfile", dockerfile)
		return
	}
	logger.Warn("Dockerfile scan reported findings", "dockerfile", dockerfile)
	fmt.Fprint(os.Stdout, result.Output)
}
