// Package enrichment defines the metadata-enrichment row and its
// stores. Enrichment rows hold externally fetched attributes (aliases,
// cast, crew, keywords) used for cross-language query expansion.
package enrichment

import (
	"context"
	"time"
)

// Status marks the outcome of the last enrichment attempt for a row.
type Status string

const (
	// StatusOK means the lookup succeeded and fields are populated.
	StatusOK Status = "ok"
	// StatusError means the lookup failed; LastError holds the reason.
	StatusError Status = "error"
)

// Row is the enrichment record for one content entry, keyed by
// (content_type, content_source, content_id).
type Row struct {
	ContentType   string
	ContentSource string
	ContentID     string
	Title         string
	AKA           string
	Keywords      string
	Plot          string
	Genre         string
	Directors     string
	Actors        string
	ReleaseYear   int
	PosterPath    string
	UpdatedAt     time.Time
	Status        Status
	LastError     string
}

// Candidate identifies a content row awaiting enrichment.
type Candidate struct {
	ContentType   string
	ContentSource string
	ContentID     string
	Title         string
	ReleaseYear   int
}

// Provider fetches enrichment data for one entry from an external
// metadata service.
type Provider interface {
	// Lookup resolves the candidate and returns a filled row. A nil row
	// with nil error means the service had no match.
	Lookup(ctx context.Context, c Candidate) (*Row, error)
}

// Store persists enrichment rows and serves expansion lookups. Rows are
// owned by the enrichment worker and read-only to everything else.
type Store interface {
	// Upsert writes a row, replacing any previous one for the same key.
	Upsert(ctx context.Context, row Row) error
	// FindMatching returns rows whose title, aka or keywords contain the
	// term, case-insensitively, up to limit.
	FindMatching(ctx context.Context, term string, limit int) ([]Row, error)
	// Candidates returns content rows lacking enrichment (or with empty
	// aka and keywords), up to limit.
	Candidates(ctx context.Context, limit int) ([]Candidate, error)
	// Get returns the row for a key, nil when absent.
	Get(ctx context.Context, contentType, contentSource, contentID string) (*Row, error)
	// Count returns the number of stored rows.
	Count(ctx context.Context) (int64, error)
}
