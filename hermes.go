// Package hermes provides semantic search over torrent metadata stored
// in PostgreSQL.
//
// A Client owns the sync pipeline, the search orchestrator and the
// enrichment worker, all wired from a single configuration:
//
//	client, err := hermes.New(hermes.WithConfigFile("hermes.yaml"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	page, err := client.Search.Search(ctx, service.SearchRequest{
//	    Query: "akira 1988",
//	    TopK:  20,
//	})
package hermes

import (
	"context"
	"errors"
	"fmt"

	"github.com/followcat/HermesIndex/application/service"
	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/infrastructure/api"
	v1 "github.com/followcat/HermesIndex/infrastructure/api/v1"
	"github.com/followcat/HermesIndex/infrastructure/persistence"
	"github.com/followcat/HermesIndex/infrastructure/provider"
	vectorstore "github.com/followcat/HermesIndex/infrastructure/vector"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/database"
	"github.com/followcat/HermesIndex/internal/log"
)

// Client is the main entry point for the library. Stores are migrated
// and the vector collection ensured during construction.
type Client struct {
	// Public services.
	Syncer   *service.Syncer
	Search   *service.Search
	Enricher *service.Enricher
	Status   *service.Status

	cfg      config.Config
	registry *source.Registry
	db       database.Database
	vectors  vector.Store
	logger   *log.Logger
}

// New creates a Client from the given options. Configuration comes
// from WithConfig, or from WithConfigFile plus environment overrides,
// or from the environment alone.
func New(opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	var cfg config.Config
	if cc.cfg != nil {
		cfg = *cc.cfg
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.Load(cc.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := cc.logger
	if logger == nil {
		logger = log.NewLogger(cfg.Log)
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	db, err := database.NewDatabase(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	states := persistence.NewStateStore(db, cfg.Bitmagnet.Schema)
	tmdb := persistence.NewTMDBStore(db, cfg.Bitmagnet.Schema, "")
	reader := persistence.NewReader(db)

	if err := states.Migrate(ctx); err != nil {
		return nil, closeOn(db, nil, err)
	}
	if err := tmdb.Migrate(ctx); err != nil {
		return nil, closeOn(db, nil, err)
	}

	embedder := cc.embedder
	if embedder == nil {
		embedder, err = provider.NewEmbedder(cfg.Embedding)
		if err != nil {
			return nil, closeOn(db, nil, err)
		}
	}

	vectors := cc.vectors
	if vectors == nil {
		vectors, err = vectorstore.NewStore(cfg.VectorStore)
		if err != nil {
			return nil, closeOn(db, nil, err)
		}
	}
	if err := vectors.Ensure(ctx, embedder.Dimension(), vector.MetricCosine); err != nil {
		return nil, closeOn(db, vectors, err)
	}

	expander := service.NewExpander(tmdb, cfg.TMDB.ExpandTimeout(), logger)
	tmdbClient := provider.NewTMDBClient(cfg.TMDB)

	syncer := service.NewSyncer(cfg, registry, reader, states, embedder, vectors, logger)
	client := &Client{
		Syncer:   syncer,
		Search:   service.NewSearch(cfg, registry, reader, embedder, vectors, expander, logger),
		Enricher: service.NewEnricher(cfg.TMDB, tmdb, tmdbClient, logger),
		Status:   service.NewStatus(registry, states, vectors, embedder, syncer, logger),
		cfg:      cfg,
		registry: registry,
		db:       db,
		vectors:  vectors,
		logger:   logger,
	}
	return client, nil
}

// Server builds the HTTP server over the client's services.
func (c *Client) Server() *api.Server {
	routes := v1.NewRouter(c.Search, c.Status, c.cfg.Search, c.logger)
	return api.NewServer(&c.cfg, routes, c.logger)
}

// Config returns the effective configuration.
func (c *Client) Config() config.Config { return c.cfg }

// Logger returns the client's logger.
func (c *Client) Logger() *log.Logger { return c.logger }

// Close flushes the vector store and closes the database.
func (c *Client) Close() error {
	var errs []error
	if err := c.vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close vector store: %w", err))
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("client closed")
	return nil
}

func closeOn(db database.Database, vectors vector.Store, err error) error {
	if vectors != nil {
		_ = vectors.Close()
	}
	return errors.Join(err, db.Close())
}
