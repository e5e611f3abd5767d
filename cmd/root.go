package cmd

import (
	"github.com/spf13/cobra"

	_ "github.com/joho/godotenv/autoload"

	"github.com/api7/imagecheck/pkg/logger"
)

// Build metadata, injected at link time.
var (
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "imagecheck",
	Short: "imagecheck - API gateway image build validation",
	Long: `imagecheck validates a built APISIX Docker image: filesystem paths,
shared-library dependencies, binary health and startup behavior, plus an
optional vulnerability scan. It also drives a local simulate-CI pipeline
around the same checks.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "check manifest (default is ./imagecheck.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func initLogging() {
	log := logger.GetLogger()
	log.ConfigureFromEnv()
	if logLevel != "" {
		log.SetLogLevel(logLevel)
	}
}
