// Package state tracks per-row sync progress. Each entry mirrors one
// upstream row: the hash of the text last embedded, the embedding
// version it was embedded under, the store-assigned vector id and the
// last failure if any.
package state

import (
	"context"
	"time"
)

// Entry is the persisted sync state for one source row. VectorID is the
// sole cross-reference between the state table and the vector store.
type Entry struct {
	Source           string
	PGID             string
	TextHash         string
	EmbeddingVersion string
	VectorID         int64
	NSFWScore        float32
	UpdatedAt        time.Time
	LastError        string
}

// Current reports whether the entry already covers the given hash under
// the given embedding version, meaning the row needs no re-embedding.
func (e Entry) Current(textHash, embeddingVersion string) bool {
	return e.LastError == "" &&
		e.TextHash == textHash &&
		e.EmbeddingVersion == embeddingVersion
}

// Stats summarizes sync progress for one source. MaxUpdatedAt is the
// upstream watermark; LastSyncAt is the wall-clock end of the last
// completed cycle, zero when the store cannot know it.
type Stats struct {
	Total        int64     `json:"total"`
	Synced       int64     `json:"synced"`
	Errors       int64     `json:"errors"`
	MaxUpdatedAt time.Time `json:"max_updated_at"`
	LastSyncAt   time.Time `json:"last_sync_at"`
}

// Store persists sync entries.
type Store interface {
	// GetMany returns existing entries for the given pg_ids, keyed by
	// pg_id. Absent rows are simply missing from the map.
	GetMany(ctx context.Context, src string, pgIDs []string) (map[string]Entry, error)
	// UpsertMany writes entries after a successful embed and vector
	// upsert, clearing any previous error. Transactional per batch.
	UpsertMany(ctx context.Context, entries []Entry) error
	// MarkError records a per-row failure without touching the stored
	// hash, so the row is retried on the next cycle.
	MarkError(ctx context.Context, src, pgID string, cause error) error
	// MaxUpdatedAt returns the high watermark of synced rows for a
	// source, zero when none exist.
	MaxUpdatedAt(ctx context.Context, src string) (time.Time, error)
	// MissingSince returns pg_ids of entries not touched since the given
	// time, oldest first, for the compaction pass.
	MissingSince(ctx context.Context, src string, since time.Time, limit int) ([]string, error)
	// StaleVersion reports whether the source holds entries embedded
	// under a version other than the given one. A stale source is
	// re-scanned from the beginning so every row re-embeds.
	StaleVersion(ctx context.Context, src, version string) (bool, error)
	// StatsFor returns sync counters for a source.
	StatsFor(ctx context.Context, src string) (Stats, error)
}
