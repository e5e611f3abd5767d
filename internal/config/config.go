package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Library is a logical runtime library the image must (or should) carry.
// Variants are acceptable filenames, probed in order; the first match wins.
type Library struct {
	Name     string   `yaml:"name"`
	Critical bool     `yaml:"critical"`
	Variants []string `yaml:"variants"`
}

// PrimaryBinary is the product's own entrypoint binary. Unlike the
// dependency-walk list, its absence is a hard failure.
type PrimaryBinary struct {
	Command     string   `yaml:"command"`
	VersionArgs []string `yaml:"version_args"`
}

// Config holds the declarative parameters of every validation check.
type Config struct {
	// CriticalPaths must all exist inside the image.
	CriticalPaths []string `yaml:"critical_paths"`

	// Libraries to search for under SearchRoots.
	Libraries   []Library `yaml:"libraries"`
	SearchRoots []string  `yaml:"search_roots"`

	// Binaries to run the shared-library dependency walk on. Absent
	// entries are optional components and are skipped.
	Binaries []string `yaml:"binaries"`

	Primary PrimaryBinary `yaml:"primary"`

	// FatalSignatures in container logs fail the startup probe outright.
	FatalSignatures []string `yaml:"fatal_signatures"`
	// WarnPatterns are surfaced but never affect the verdict.
	WarnPatterns []string `yaml:"warn_patterns"`

	// AcceptableVersionErrors mark a version-probe failure as expected
	// (binary is fine, the configuration backend just isn't reachable).
	AcceptableVersionErrors []string `yaml:"acceptable_version_errors"`

	// TimeoutSeconds bounds the startup-probe observation window.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Default returns the validation parameters for the APISIX gateway image.
func Default() *Config {
	return &Config{
		CriticalPaths: []string{
			"/usr/local/apisix",
			"/usr/local/openresty",
			"/usr/local/openresty/nginx/sbin/nginx",
			"/docker-entrypoint.sh",
		},
		Libraries: []Library{
			{
				Name:     "pcre",
				Critical: true,
				Variants: []string{"libpcre.so.1", "libpcre.so.3", "libpcre.so"},
			},
			{
				Name:     "yaml",
				Critical: false,
				Variants: []string{"libyaml-0.so.2", "libyaml.so"},
			},
		},
		SearchRoots: []string{
			"/usr/lib",
			"/usr/local/lib",
			"/lib",
			"/usr/lib/x86_64-linux-gnu",
			"/usr/local/openresty/luajit/lib",
		},
		Binaries: []string{
			"/usr/local/openresty/nginx/sbin/nginx",
			"/usr/local/openresty/bin/openresty",
			"/usr/local/openresty/luajit/bin/luajit",
		},
		Primary: PrimaryBinary{
			Command:     "apisix",
			VersionArgs: []string{"version"},
		},
		FatalSignatures: []string{
			"error while loading shared libraries",
			"cannot open shared object file",
			"libpcre.so.1: not found",
		},
		WarnPatterns: []string{
			"[warn]",
			"[alert]",
		},
		AcceptableVersionErrors: []string{
			"connection refused",
			"all etcd nodes are unavailable",
			"failed to fetch data from etcd",
			"dial tcp",
		},
		TimeoutSeconds: 30,
	}
}

// Load builds the effective configuration: defaults, then an optional
// YAML manifest, then environment overrides via viper.
func Load(manifestPath string) (*Config, error) {
	cfg := Default()

	if manifestPath != "" {
		if err := cfg.applyManifest(manifestPath); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("imagecheck.yaml"); err == nil {
		if err := cfg.applyManifest("imagecheck.yaml"); err != nil {
			return nil, err
		}
	}

	viper.SetDefault("validation_timeout", cfg.TimeoutSeconds)
	if err := viper.BindEnv("validation_timeout", "VALIDATION_TIMEOUT"); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	if t := viper.GetInt("validation_timeout"); t > 0 {
		cfg.TimeoutSeconds = t
	}

	return cfg, nil
}

func (c *Config) applyManifest(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

// Timeout returns the configured observation window as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SettleWindow is the fixed wait after starting the probe container before
// judging its state, bounded by the configured timeout.
func (c *Config) SettleWindow() time.Duration {
	settle := 10 * time.Second
	if t := c.Timeout(); t < settle {
		settle = t
	}
	return settle
}
