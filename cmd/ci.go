package cmd

import (
	"github.com/spf13/cobra"

	"github.com/api7/imagecheck/internal/config"
	"github.com/api7/imagecheck/internal/pipeline"
	"github.com/api7/imagecheck/pkg/docker"
)

var ciOpts pipeline.Options

var ciCmd = &cobra.Command{
	Use:   "ci",
	Short: "Simulate the CI pipeline locally",
	Long: `Build the gateway image from a local context, validate it, lint the
Dockerfile and scan it for vulnerabilities, the same way CI does before a
release. Lint and scan findings are advisory; only a failed validation
check fails the run.`,
	RunE: runCI,
}

func init() {
	rootCmd.AddCommand(ciCmd)
	ciCmd.Flags().StringVar(&ciOpts.ContextDir, "context", ".", "build context directory")
	ciCmd.Flags().StringVar(&ciOpts.Dockerfile, "dockerfile", "Dockerfile", "Dockerfile path, relative to the context")
	ciCmd.Flags().StringVar(&ciOpts.Tag, "tag", "apisix:ci", "tag for the built image")
	ciCmd.Flags().StringVar(&ciOpts.APISIXPath, "apisix-path", "./apisix", "APISIX_PATH build argument")
	ciCmd.Flags().StringVar(&ciOpts.EntrypointPath, "entrypoint-path", "./docker-entrypoint.sh", "ENTRYPOINT_PATH build argument")
	ciCmd.Flags().StringVar(&ciOpts.InstallBrotliPath, "install-brotli-path", "./install-brotli.sh", "INSTALL_BROTLI_PATH build argument")
	ciCmd.Flags().StringSliceVar(&ciOpts.Publish, "publish", nil, "smoke-run the built image with hostPort:containerPort[/proto] bindings")
	ciCmd.Flags().BoolVar(&ciOpts.SkipLint, "skip-lint", false, "skip the Dockerfile lint step")
	ciCmd.Flags().BoolVar(&ciOpts.SkipScan, "skip-scan", false, "skip the Dockerfile vulnerability scan step")
}

func runCI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	engine, err := docker.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	cmd.SilenceUsage = true

	return pipeline.New(engine, cfg).Run(cmd.Context(), ciOpts)
}
