package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/api7/imagecheck/internal/config"
	"github.com/api7/imagecheck/internal/scanner"
	"github.com/api7/imagecheck/internal/validator"
	"github.com/api7/imagecheck/pkg/docker"
	"github.com/api7/imagecheck/pkg/reference"
)

var (
	validateTimeout int
	validateOutput  string
)

var validateCmd = &cobra.Command{
	Use:   "validate <image>",
	Short: "Validate a built gateway image",
	Long: `Run the full check sequence against a locally built image: critical
paths, runtime libraries, binary dependency resolution, version probe,
container startup and vulnerability scan. Exit code 0 means every check
passed (warnings allowed); 1 means at least one check failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().IntVar(&validateTimeout, "timeout", 0, "startup-probe window in seconds (overrides VALIDATION_TIMEOUT)")
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", "text", "report format: text or json")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ref, err := reference.Parse(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if validateTimeout > 0 {
		cfg.TimeoutSeconds = validateTimeout
	}

	engine, err := docker.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	// Flag parsing is done; run errors from here on are setup or check
	// failures, not usage mistakes.
	cmd.SilenceUsage = true

	v := validator.New(ref.String(), cfg, engine, &scanner.Trivy{})
	report, err := v.Run(cmd.Context())
	if err != nil {
		return err
	}

	switch validateOutput {
	case "json":
		if err := report.JSON(os.Stdout); err != nil {
			return err
		}
	default:
		report.Print(os.Stdout)
	}

	if !report.Passed() {
		return fmt.Errorf("validation failed for %s: fix the issues above before deploying", ref.String())
	}
	return nil
}
