package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	hermes "github.com/followcat/HermesIndex"
)

func enrichCmd() *cobra.Command {
	var (
		envFile    string
		configFile string
		loop       bool
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fill missing TMDB metadata for indexed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(envFile, configFile, loop)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&configFile, "config", "", "Path to YAML config file")
	cmd.Flags().BoolVar(&loop, "loop", false, "Keep running passes instead of exiting after one")

	return cmd
}

func runEnrich(envFile, configFile string, loop bool) error {
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

	if loop {
		if err := client.Enricher.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("enrich: %w", err)
		}
		return nil
	}

	written, err := client.Enricher.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	client.Logger().Info("enrichment pass complete", "written", written)
	return nil
}
