package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/api7/imagecheck/internal/scanner"
)

// checkCriticalPaths probes every configured path inside an ephemeral
// container. Missing paths fail, but every path is still probed so the
// report lists all of them.
func (v *Validator) checkCriticalPaths(ctx context.Context) CheckResult {
	result := CheckResult{Name: "critical paths"}

	containerID, err := v.Engine.StartEphemeral(ctx, v.Image)
	if err != nil {
		result.fail("could not start probe container: %v", err)
		return result
	}
	defer v.removeContainer(ctx, containerID)

	for _, path := range v.Config.CriticalPaths {
		_, exitCode, err := v.Engine.Exec(ctx, containerID, []string{"sh", "-c", fmt.Sprintf("test -e %q", path)})
		if err != nil {
			result.fail("probe failed for %s: %v", path, err)
			continue
		}
		if exitCode != 0 {
			result.fail("missing: %s", path)
			continue
		}
		result.note("found: %s", path)
	}

	return result
}

// checkLibraries searches the configured roots for each library's filename
// variants. The first matching variant wins and the remaining variants for
// that library are not probed.
func (v *Validator) checkLibraries(ctx context.Context) CheckResult {
	result := CheckResult{Name: "runtime libraries"}

	containerID, err := v.Engine.StartEphemeral(ctx, v.Image)
	if err != nil {
		result.fail("could not start probe container: %v", err)
		return result
	}
	defer v.removeContainer(ctx, containerID)

	roots := strings.Join(v.Config.SearchRoots, " ")
	for _, lib := range v.Config.Libraries {
		found := ""
		for _, variant := range lib.Variants {
			script := fmt.Sprintf("find %s -name %q 2>/dev/null | head -n 1", roots, variant)
			output, _, err := v.Engine.Exec(ctx, containerID, []string{"sh", "-c", script})
			if err != nil {
				continue
			}
			if path := strings.TrimSpace(output); path != "" {
				found = path
				break
			}
		}

		switch {
		case found != "":
			result.note("%s: found %s", lib.Name, found)
		case lib.Critical:
			result.fail("%s: no variant found (looked for %s)", lib.Name, strings.Join(lib.Variants, ", "))
		default:
			result.warn("%s: no variant found (looked for %s)", lib.Name, strings.Join(lib.Variants, ", "))
		}
	}

	return result
}

// unresolvedMarkers are the substrings in resolver output that indicate a
// dependency the loader could not locate. Substring matching on the free
// text output is the baseline compatibility contract.
var unresolvedMarkers = []string{"not found", "No such file"}

// checkBinaryDeps walks shared-library dependencies for each configured
// binary. Absent binaries are optional components and are skipped; so are
// text artifacts, since the resolver only operates on compiled binaries.
func (v *Validator) checkBinaryDeps(ctx context.Context) CheckResult {
	result := CheckResult{Name: "binary dependencies"}

	containerID, err := v.Engine.StartEphemeral(ctx, v.Image)
	if err != nil {
		result.fail("could not start probe container: %v", err)
		return result
	}
	defer v.removeContainer(ctx, containerID)

	for _, binary := range v.Config.Binaries {
		_, exitCode, err := v.Engine.Exec(ctx, containerID, []string{"sh", "-c", fmt.Sprintf("test -e %q", binary)})
		if err != nil || exitCode != 0 {
			result.note("%s: skipped (not present)", binary)
			continue
		}

		header, _, err := v.Engine.Exec(ctx, containerID, []string{"sh", "-c", fmt.Sprintf("head -c 4 %q", binary)})
		if err == nil && !isELFHeader(header) {
			result.note("%s: skipped (not a compiled binary)", binary)
			continue
		}

		output, exitCode, err := v.Engine.Exec(ctx, containerID, []string{"ldd", binary})
		if err != nil {
			result.fail("%s: dependency walk failed: %v", binary, err)
			continue
		}
		if exitCode == 127 {
			result.warn("%s: dependency resolver unavailable in image", binary)
			continue
		}

		if missing := parseMissingLibs(output); len(missing) > 0 {
			result.fail("%s: unresolved dependencies: %s", binary, strings.Join(missing, ", "))
			continue
		}
		result.note("%s: %d dependencies resolved", binary, strings.Count(output, "=>"))
	}

	return result
}

// isELFHeader reports whether the probe output starts with the ELF magic.
func isELFHeader(output string) bool {
	return strings.HasPrefix(output, "\x7fELF")
}

// parseMissingLibs extracts the library names from resolver output lines
// that carry an unresolved-dependency marker.
func parseMissingLibs(output string) []string {
	var missing []string
	for _, line := range strings.Split(output, "\n") {
		matched := false
		for _, marker := range unresolvedMarkers {
			if strings.Contains(line, marker) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			missing = append(missing, fields[0])
		}
	}
	return missing
}

var versionRe = regexp.MustCompile(`\d+\.\d+\.\d+`)

// checkVersion verifies the primary binary exists and tries its version
// subcommand. An unreachable configuration backend is acceptable; any
// other failure degrades to a warning since presence is already proven.
func (v *Validator) checkVersion(ctx context.Context) CheckResult {
	result := CheckResult{Name: "version probe"}

	containerID, err := v.Engine.StartEphemeral(ctx, v.Image)
	if err != nil {
		result.fail("could not start probe container: %v", err)
		return result
	}
	defer v.removeContainer(ctx, containerID)

	command := v.Config.Primary.Command
	_, exitCode, err := v.Engine.Exec(ctx, containerID, []string{"sh", "-c", fmt.Sprintf("command -v %q", command)})
	if err != nil || exitCode != 0 {
		result.fail("primary binary %s not found in image", command)
		return result
	}
	result.note("%s: present", command)

	output, _, err := v.Engine.Exec(ctx, containerID, append([]string{command}, v.Config.Primary.VersionArgs...))
	if err != nil {
		result.warn("%s version: probe error: %v", command, err)
		return result
	}

	switch {
	case strings.Contains(strings.ToLower(output), command):
		detail := "reported product version"
		if raw := versionRe.FindString(output); raw != "" {
			if version, err := semver.NewVersion(raw); err == nil {
				detail = fmt.Sprintf("reported version %s", version)
			}
		}
		result.note("%s version: %s", command, detail)
	case containsAny(output, v.Config.AcceptableVersionErrors):
		result.note("%s version: configuration backend unreachable (acceptable, binary is intact)", command)
	default:
		result.warn("%s version: unexpected output: %s", command, firstLine(output))
	}

	return result
}

// checkStartup starts a detached container from the image, waits the
// settle window, then judges it: fatal log signatures fail regardless of
// running state; a clean exit with no runtime configuration is expected.
func (v *Validator) checkStartup(ctx context.Context) CheckResult {
	result := CheckResult{Name: "container startup"}

	containerID, err := v.Engine.RunDetached(ctx, v.Image)
	if err != nil {
		result.fail("could not start container: %v", err)
		return result
	}
	defer v.removeContainer(ctx, containerID)

	select {
	case <-time.After(v.Config.SettleWindow()):
	case <-ctx.Done():
		result.fail("startup probe interrupted: %v", ctx.Err())
		return result
	}

	running, err := v.Engine.IsRunning(ctx, containerID)
	if err != nil {
		result.fail("could not inspect container: %v", err)
		return result
	}

	// Logs are collected regardless of running state.
	logs, err := v.Engine.Logs(ctx, containerID)
	if err != nil {
		result.warn("could not fetch container logs: %v", err)
		logs = ""
	}

	for _, signature := range v.Config.FatalSignatures {
		if strings.Contains(logs, signature) {
			result.fail("fatal signature in logs: %q", signature)
		}
	}
	if result.Status == Fail {
		return result
	}

	if running {
		result.note("container still running after %s settle window", v.Config.SettleWindow())
		for _, line := range grepLines(logs, v.Config.WarnPatterns) {
			result.note("log warning: %s", line)
		}
	} else {
		// Expected when no runtime configuration was supplied; the probe
		// validates binary and library health, not functional startup.
		result.note("container exited within settle window, no fatal signature found")
	}

	return result
}

// checkVulnScan runs the external scanner when available. Findings are
// advisory; scan results inform but never gate the verdict.
func (v *Validator) checkVulnScan(ctx context.Context) CheckResult {
	result := CheckResult{Name: "vulnerability scan"}

	if v.Scanner == nil || !v.Scanner.Installed() {
		result.warn("scanner not installed, skipping")
		return result
	}

	scanResult, err := v.Scanner.Scan(ctx, v.Image, scanner.DefaultSeverities)
	if err != nil {
		result.warn("scan failed: %v", err)
		return result
	}

	if scanResult.Clean {
		result.note("no HIGH/CRITICAL vulnerabilities reported")
		return result
	}

	result.warn("scanner reported findings (severities %s)", scanner.DefaultSeverities)
	for severity, count := range scanResult.Counts {
		if count > 0 {
			result.note("%s: %d", severity, count)
		}
	}
	return result
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func grepLines(s string, patterns []string) []string {
	var matched []string
	for _, line := range strings.Split(s, "\n") {
		if containsAny(line, patterns) {
			matched = append(matched, strings.TrimSpace(line))
		}
	}
	return matched
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
