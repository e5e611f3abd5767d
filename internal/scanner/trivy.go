package scanner

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/api7/imagecheck/pkg/logger"
)

// DefaultSeverities is the severity filter used when gating an image:
// anything below HIGH informs but is not worth surfacing in a pre-deploy
// report.
const DefaultSeverities = "HIGH,CRITICAL"

// zeroMarker is the substring trivy prints when no vulnerabilities match
// the severity filter. Matching stays substring-based on the text report;
// that is the compatibility contract with the tool's output.
const zeroMarker = "Total: 0"

// Result is the outcome of one scanner invocation.
type Result struct {
	Clean  bool
	Counts map[string]int
	Output string
}

// Trivy invokes the external trivy binary as an opaque scanner.
type Trivy struct {
	// Binary allows tests to point at a stub; empty means "trivy".
	Binary string
}

func (t *Trivy) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "trivy"
}

// Installed reports whether the scanner binary is available on the host.
func (t *Trivy) Installed() bool {
	_, err := exec.LookPath(t.binary())
	return err == nil
}

// Scan runs the scanner against an image with a severity filter and
// checks the text report for the zero-findings marker.
func (t *Trivy) Scan(ctx context.Context, image, severities string) (Result, error) {
	if severities == "" {
		severities = DefaultSeverities
	}

	logger.Info("Running vulnerability scan", "image", image, "severities", severities)

	cmd := exec.CommandContext(ctx, t.binary(), "image", "--severity", severities, "--no-progress", image)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("scanner invocation failed: %w", err)
	}

	return ParseReport(string(output)), nil
}

// ConfigScan runs the scanner's misconfiguration mode directly against a
// Dockerfile (or any IaC file).
func (t *Trivy) ConfigScan(ctx context.Context, path, severities string) (Result, error) {
	if severities == "" {
		severities = DefaultSeverities
	}

	cmd := exec.CommandContext(ctx, t.binary(), "config", "--severity", severities, path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("scanner invocation failed: %w", err)
	}

	return ParseReport(string(output)), nil
}

var severityCountRe = regexp.MustCompile(`(CRITICAL|HIGH|MEDIUM|LOW|UNKNOWN):\s*(\d+)`)

// ParseReport extracts the zero-findings verdict and per-severity counts
// from a trivy text report.
func ParseReport(output string) Result {
	res := Result{
		Clean:  strings.Contains(output, zeroMarker),
		Counts: map[string]int{},
		Output: output,
	}

	for _, m := range severityCountRe.FindAllStringSubmatch(output, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		res.Counts[m[1]] += n
	}

	return res
}
