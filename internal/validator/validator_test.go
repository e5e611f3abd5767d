package validator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/api7/imagecheck/internal/config"
	"github.com/api7/imagecheck/internal/scanner"
	"github.com/api7/imagecheck/pkg/docker"
)

// fakeEngine answers probes from fixture maps so checks run against a
// scripted image without a daemon.
type fakeEngine struct {
	pingErr     error
	imageExists bool

	paths      map[string]bool   // existing filesystem paths
	libFiles   map[string]string // library variant -> found path
	elf        map[string]bool   // binary -> has ELF header
	lddOutputs map[string]string // binary -> ldd output
	primary    bool              // primary binary resolvable
	versionOut string

	detachedRunning bool
	detachedLogs    string
	runDetachedErr  error

	started        []string
	removed        []string
	probedVariants []string
	nextID         int
}

func (f *fakeEngine) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	return f.imageExists, nil
}

func (f *fakeEngine) InspectImage(ctx context.Context, ref string) (docker.ImageInfo, error) {
	return docker.ImageInfo{ID: "sha256:feedface", Size: 1 << 20}, nil
}

func (f *fakeEngine) StartEphemeral(ctx context.Context, image string) (string, error) {
	f.nextID++
	id := "ephemeral-" + strconv.Itoa(f.nextID)
	f.started = append(f.started, id)
	return id, nil
}

func (f *fakeEngine) RunDetached(ctx context.Context, image string) (string, error) {
	if f.runDetachedErr != nil {
		return "", f.runDetachedErr
	}
	f.nextID++
	id := "detached-" + strconv.Itoa(f.nextID)
	f.started = append(f.started, id)
	return id, nil
}

func (f *fakeEngine) Exec(ctx context.Context, containerID string, cmd []string) (string, int, error) {
	if cmd[0] == "ldd" {
		return f.lddOutputs[cmd[1]], 0, nil
	}
	if cmd[0] == "sh" && len(cmd) == 3 {
		return f.execScript(cmd[2])
	}
	// Version subcommand of the primary binary.
	return f.versionOut, 0, nil
}

func (f *fakeEngine) execScript(script string) (string, int, error) {
	switch {
	case strings.HasPrefix(script, "test -e "):
		path, err := strconv.Unquote(strings.TrimPrefix(script, "test -e "))
		if err != nil {
			return "", -1, err
		}
		if f.paths[path] {
			return "", 0, nil
		}
		return "", 1, nil

	case strings.HasPrefix(script, "find "):
		rest := script[strings.Index(script, "-name ")+len("-name "):]
		variant, err := strconv.Unquote(rest[:strings.Index(rest, " 2>")])
		if err != nil {
			return "", -1, err
		}
		f.probedVariants = append(f.probedVariants, variant)
		if found, ok := f.libFiles[variant]; ok {
			return found + "\n", 0, nil
		}
		return "", 0, nil

	case strings.HasPrefix(script, "head -c 4 "):
		path, err := strconv.Unquote(strings.TrimPrefix(script, "head -c 4 "))
		if err != nil {
			return "", -1, err
		}
		if f.elf[path] {
			return "\x7fELF\x02\x01", 0, nil
		}
		return "#!/u", 0, nil

	case strings.HasPrefix(script, "command -v "):
		if f.primary {
			return "/usr/bin/apisix\n", 0, nil
		}
		return "", 1, nil
	}
	return "", -1, fmt.Errorf("unexpected script: %s", script)
}

func (f *fakeEngine) IsRunning(ctx context.Context, containerID string) (bool, error) {
	return f.detachedRunning, nil
}

func (f *fakeEngine) Logs(ctx context.Context, containerID string) (string, error) {
	return f.detachedLogs, nil
}

func (f *fakeEngine) Remove(ctx context.Context, containerID string) error {
	f.removed = append(f.removed, containerID)
	return nil
}

type fakeScanner struct {
	installed bool
	result    scanner.Result
	err       error
}

func (s *fakeScanner) Installed() bool { return s.installed }

func (s *fakeScanner) Scan(ctx context.Context, image, severities string) (scanner.Result, error) {
	return s.result, s.err
}

// testConfig returns the default config with a zero timeout so the
// startup probe does not sleep in tests.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TimeoutSeconds = 0
	return cfg
}

// healthyEngine scripts an image that passes every check.
func healthyEngine() *fakeEngine {
	cfg := config.Default()
	paths := map[string]bool{}
	for _, p := range cfg.CriticalPaths {
		paths[p] = true
	}
	for _, b := range cfg.Binaries {
		paths[b] = true
	}
	return &fakeEngine{
		imageExists: true,
		paths:       paths,
		libFiles: map[string]string{
			"libpcre.so.1":   "/usr/lib/libpcre.so.1",
			"libyaml-0.so.2": "/usr/lib/libyaml-0.so.2",
		},
		elf: map[string]bool{
			"/usr/local/openresty/nginx/sbin/nginx":  true,
			"/usr/local/openresty/bin/openresty":     false,
			"/usr/local/openresty/luajit/bin/luajit": true,
		},
		lddOutputs: map[string]string{
			"/usr/local/openresty/nginx/sbin/nginx":  "\tlibpcre.so.1 => /usr/lib/libpcre.so.1 (0x1000)\n\tlibc.so.6 => /lib/libc.so.6 (0x2000)\n",
			"/usr/local/openresty/luajit/bin/luajit": "\tlibm.so.6 => /lib/libm.so.6 (0x1000)\n",
		},
		primary:         true,
		versionOut:      "APISIX version 3.9.1\n",
		detachedRunning: true,
		detachedLogs:    "nginx started\n",
	}
}

func checkNames(report *Report) []string {
	names := make([]string, 0, len(report.Results))
	for _, r := range report.Results {
		names = append(names, r.Name)
	}
	return names
}

var wantOrder = []string{
	"critical paths",
	"runtime libraries",
	"binary dependencies",
	"version probe",
	"container startup",
	"vulnerability scan",
}

func TestRunHealthyImage(t *testing.T) {
	engine := healthyEngine()
	v := New("apisix:test", testConfig(), engine, &fakeScanner{installed: true, result: scanner.Result{Clean: true}})

	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if !report.Passed() {
		t.Fatalf("healthy image should pass, got results %+v", report.Results)
	}

	got := checkNames(report)
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d checks, got %d (%v)", len(wantOrder), len(got), got)
	}
	for i, name := range wantOrder {
		if got[i] != name {
			t.Errorf("check %d = %q, want %q", i, got[i], name)
		}
	}
}

func TestRunSetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngine
		errMsg string
	}{
		{"engine unreachable", &fakeEngine{pingErr: errors.New("daemon down")}, "daemon down"},
		{"image absent", &fakeEngine{imageExists: false}, "image not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New("apisix:test", testConfig(), tt.engine, nil)
			report, err := v.Run(context.Background())
			if err == nil {
				t.Fatal("expected setup error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.errMsg)
			}
			if report != nil {
				t.Errorf("setup errors must not produce a report, got %+v", report)
			}
		})
	}
}

func TestRunMissingServerBinaryStillRunsEveryCheck(t *testing.T) {
	engine := healthyEngine()
	delete(engine.paths, "/usr/local/openresty/nginx/sbin/nginx")

	v := New("apisix:test", testConfig(), engine, &fakeScanner{installed: true, result: scanner.Result{Clean: true}})
	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if report.Verdict() != Fail {
		t.Error("missing server binary must fail the run")
	}
	if got := checkNames(report); len(got) != len(wantOrder) {
		t.Errorf("all checks must still run after a failure, got %v", got)
	}
	if report.Results[0].Status != Fail {
		t.Errorf("critical path check should fail, got %v", report.Results[0].Status)
	}
}

func TestRunIdempotent(t *testing.T) {
	cfg := testConfig()
	scan := &fakeScanner{installed: true, result: scanner.Result{Clean: true}}

	var reports []*Report
	for i := 0; i < 2; i++ {
		v := New("apisix:test", cfg, healthyEngine(), scan)
		report, err := v.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		reports = append(reports, report)
	}

	if reports[0].Verdict() != reports[1].Verdict() {
		t.Error("verdict changed between identical runs")
	}
	for i := range reports[0].Results {
		if reports[0].Results[i].Status != reports[1].Results[i].Status {
			t.Errorf("check %q status changed between runs", reports[0].Results[i].Name)
		}
	}
}

func TestEphemeralContainersAlwaysRemoved(t *testing.T) {
	engine := healthyEngine()
	// A failing image exercises the cleanup path on failure too.
	delete(engine.paths, "/docker-entrypoint.sh")

	v := New("apisix:test", testConfig(), engine, &fakeScanner{})
	if _, err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if len(engine.started) == 0 {
		t.Fatal("expected probe containers to be started")
	}
	if len(engine.removed) != len(engine.started) {
		t.Errorf("started %d containers but removed %d", len(engine.started), len(engine.removed))
	}
}
