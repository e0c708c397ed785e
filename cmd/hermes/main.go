// Package main is the entry point for the hermes CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/internal/config"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if fault.IsKind(err, fault.KindConfigInvalid) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hermes",
		Short: "Semantic search over torrent metadata",
		Long: `HermesIndex keeps a vector index in sync with a torrent-metadata
database and serves cross-language semantic search over it.`,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(syncCmd())
	cmd.AddCommand(enrichCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads the .env file, the YAML file and environment
// overrides, in that order.
func loadConfig(envFile, configFile string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, fault.Wrap(fault.KindConfigInvalid, "load .env file", err)
	}
	return config.Load(configFile)
}
