package service

import (
	"context"
	"time"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

// Enricher fills the enrichment table from an external metadata
// provider. Rate limiting lives in the provider client; the worker only
// paces its passes.
type Enricher struct {
	store    enrichment.Store
	provider enrichment.Provider
	limit    int
	sleep    time.Duration
	logger   *log.Logger
}

// NewEnricher creates the enrichment worker.
func NewEnricher(cfg config.TMDBConfig, store enrichment.Store, provider enrichment.Provider, logger *log.Logger) *Enricher {
	limit := cfg.Limit
	if limit <= 0 {
		limit = config.DefaultTMDBLimit
	}
	return &Enricher{
		store:    store,
		provider: provider,
		limit:    limit,
		sleep:    cfg.Sleep(),
		logger:   logger,
	}
}

// RunOnce processes one pass of candidates and returns how many rows
// were written.
func (e *Enricher) RunOnce(ctx context.Context) (int, error) {
	candidates, err := e.store.Candidates(ctx, e.limit)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		row := e.lookup(ctx, c)
		if err := e.store.Upsert(ctx, row); err != nil {
			e.logger.Error("enrichment write failed",
				"content_type", c.ContentType, "content_id", c.ContentID, "error", err)
			continue
		}
		written++
	}
	return written, nil
}

// Run loops RunOnce with a pause between passes until cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	for {
		n, err := e.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			e.logger.Error("enrichment pass failed", "error", err)
		}
		if n > 0 {
			e.logger.Info("enrichment pass complete", "written", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.sleep):
		}
	}
}

// lookup resolves one candidate. Lookup failures and missing matches
// both produce an error-status row so the candidate is not retried
// every pass.
func (e *Enricher) lookup(ctx context.Context, c enrichment.Candidate) enrichment.Row {
	row, err := e.provider.Lookup(ctx, c)
	now := time.Now().UTC()
	switch {
	case err != nil:
		return enrichment.Row{
			ContentType:   c.ContentType,
			ContentSource: c.ContentSource,
			ContentID:     c.ContentID,
			Title:         c.Title,
			ReleaseYear:   c.ReleaseYear,
			UpdatedAt:     now,
			Status:        enrichment.StatusError,
			LastError:     err.Error(),
		}
	case row == nil:
		return enrichment.Row{
			ContentType:   c.ContentType,
			ContentSource: c.ContentSource,
			ContentID:     c.ContentID,
			Title:         c.Title,
			ReleaseYear:   c.ReleaseYear,
			UpdatedAt:     now,
			Status:        enrichment.StatusError,
			LastError:     "no match",
		}
	default:
		row.UpdatedAt = now
		row.Status = enrichment.StatusOK
		return *row
	}
}
