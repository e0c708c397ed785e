package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	hermes "github.com/followcat/HermesIndex"
)

func syncCmd() *cobra.Command {
	var (
		envFile    string
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle for every source and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(envFile, configFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&configFile, "config", "", "Path to YAML config file")

	return cmd
}

func runSync(envFile, configFile string) error {
	cfg, err := loadConfig(envFile, configFile)
	if err != nil {
		return err
	}

	client, err := hermes.New(hermes.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			client.Logger().Error("close client", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Syncer.SyncOnce(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	client.Logger().Info("sync complete")
	return nil
}
