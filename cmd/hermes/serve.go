package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	hermes "github.com/followcat/HermesIndex"
)

func serveCmd() *cobra.Command {
	var (
		envFile    string
		configFile string
		host       string
		port       int
		noSync     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the sync workers",
		Long: `Start the HTTP server and the sync workers.

Configuration is loaded in the following order (later sources override
earlier):
  1. Default values
  2. YAML config file (--config)
  3. .env file (--env-file, or .env in the current directory)
  4. HERMES_-prefixed environment variables
  5. Command line flags

The enrichment worker runs alongside when tmdb.auto_enrich is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, configFile, host, port, noSync)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&configFile, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Serve queries without running the sync workers")

	return cmd
}

func runServe(envFile, configFile, host string, port int, noSync bool) error {
	cfg, err := loadConfig(envFile, configFile)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
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

	logger := client.Logger()
	server := client.Server()
	logger.Info("starting hermes", "version", version, "addr", server.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if !noSync {
		g.Go(func() error {
			return ignoreCancel(client.Syncer.Run(ctx))
		})
	}
	if cfg.TMDB.AutoEnrich {
		g.Go(func() error {
			return ignoreCancel(client.Enricher.Run(ctx))
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("hermes stopped")
	return nil
}

// ignoreCancel drops context cancellation so a clean shutdown does not
// surface as an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
