package main

import (
	"os"

	"github.com/api7/imagecheck/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.BuildVersion = version
	cmd.BuildCommit = commit
	cmd.BuildDate = date

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
