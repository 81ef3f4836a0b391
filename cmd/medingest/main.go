// medingest is the operator CLI for the medical record ingest pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "medingest",
		Short:   "Medical record batch ingestion and patient matching pipeline",
		Version: fmt.Sprintf("%s (%s)", version, gitCommit),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to configuration file")

	root.AddCommand(newParseCmd())
	root.AddCommand(newMatchDryrunCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
