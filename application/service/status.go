package service

import (
	"context"
	"time"

	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/domain/state"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/log"
)

// SourceStatus is the sync report for one source.
type SourceStatus struct {
	Source string `json:"source"`
	state.Stats
}

// StatusReport is the /status response body.
type StatusReport struct {
	Sources          []SourceStatus `json:"sources"`
	VectorCount      int64          `json:"vector_count"`
	EmbeddingVersion string         `json:"embedding_version"`
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status           string `json:"status"`
	VectorCount      int64  `json:"vector_count"`
	EmbeddingVersion string `json:"embedding_version"`
}

// SyncClock reports when a source last completed a sync cycle. The
// Syncer implements it; a nil clock leaves last_sync_at zero.
type SyncClock interface {
	LastSyncAt(src string) time.Time
}

// Status aggregates sync and store statistics for the API.
type Status struct {
	registry *source.Registry
	states   state.Store
	vectors  vector.Store
	embedder search.Embedder
	clock    SyncClock
	logger   *log.Logger
}

// NewStatus creates the status service.
func NewStatus(registry *source.Registry, states state.Store, vectors vector.Store, embedder search.Embedder, clock SyncClock, logger *log.Logger) *Status {
	return &Status{
		registry: registry,
		states:   states,
		vectors:  vectors,
		embedder: embedder,
		clock:    clock,
		logger:   logger,
	}
}

// Report collects per-source stats plus the vector store count.
func (s *Status) Report(ctx context.Context) (StatusReport, error) {
	report := StatusReport{EmbeddingVersion: s.embedder.Version()}
	for _, d := range s.registry.All() {
		stats, err := s.states.StatsFor(ctx, d.Name)
		if err != nil {
			return StatusReport{}, err
		}
		if s.clock != nil {
			stats.LastSyncAt = s.clock.LastSyncAt(d.Name)
		}
		report.Sources = append(report.Sources, SourceStatus{Source: d.Name, Stats: stats})
	}
	count, err := s.vectors.Count(ctx)
	if err != nil {
		s.logger.Warn("vector count unavailable", "error", err)
	} else {
		report.VectorCount = count
	}
	return report, nil
}

// Health reports liveness. The vector store must answer; a degraded
// count alone does not fail the check.
func (s *Status) Health(ctx context.Context) (HealthReport, error) {
	if err := s.vectors.Health(ctx); err != nil {
		return HealthReport{}, err
	}
	count, _ := s.vectors.Count(ctx)
	return HealthReport{
		Status:           "ok",
		VectorCount:      count,
		EmbeddingVersion: s.embedder.Version(),
	}, nil
}
