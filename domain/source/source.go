// Package source defines the source registry and the row shape the sync
// pipeline reads from the upstream metadata database.
//
// A source is one logical stream (table or view). Source names are the
// partition key everywhere: in the state table, in vector payloads and
// in search results.
package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/followcat/HermesIndex/domain/fault"
)

// Descriptor declares one configured source.
type Descriptor struct {
	// Name uniquely identifies the source, e.g. "bitmagnet_torrents".
	Name string `yaml:"name"`
	// TableOrView is the upstream relation the reader pulls from.
	TableOrView string `yaml:"table_or_view"`
	// IDField is the column holding the natural identifier. Composite
	// keys are pre-concatenated by an upstream view.
	IDField string `yaml:"id_field"`
	// TextField is the column embedded after normalization.
	TextField string `yaml:"text_field"`
	// UpdatedAtField is the watermark column. Empty means the source has
	// no watermark and every cycle is a full scan with hash diffing.
	UpdatedAtField string `yaml:"updated_at_field"`
	// ExtraFields are additional columns folded into search_text and
	// carried on the vector payload.
	ExtraFields []string `yaml:"extra_fields"`
	// ContentType tags rows for filtering, e.g. "movie" or "tv".
	ContentType string `yaml:"content_type"`
	// BatchSize overrides the global sync batch size when positive.
	BatchSize int `yaml:"batch_size"`
	// TMDBEnrich marks the source's rows as enrichment candidates.
	TMDBEnrich bool `yaml:"tmdb_enrich"`
	// KeywordSearch enables the source on the /search_keyword fallback.
	// The semantic path ignores it.
	KeywordSearch bool `yaml:"keyword_search"`
	// TagNSFW enables nsfw classification for the source's rows.
	TagNSFW bool `yaml:"tag_nsfw"`
}

// Validate checks the descriptor's required fields.
func (d Descriptor) Validate() error {
	switch {
	case d.Name == "":
		return fault.New(fault.KindConfigInvalid, "source missing name")
	case d.TableOrView == "":
		return fault.Newf(fault.KindConfigInvalid, "source %q missing table_or_view", d.Name)
	case d.IDField == "":
		return fault.Newf(fault.KindConfigInvalid, "source %q missing id_field", d.Name)
	case d.TextField == "":
		return fault.Newf(fault.KindConfigInvalid, "source %q missing text_field", d.Name)
	}
	return nil
}

// Registry is an ordered, name-indexed set of descriptors. It is
// immutable after construction.
type Registry struct {
	ordered []Descriptor
	byName  map[string]Descriptor
}

// NewRegistry validates the descriptors and rejects duplicate names.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		ordered: make([]Descriptor, 0, len(descriptors)),
		byName:  make(map[string]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fault.Newf(fault.KindConfigInvalid, "duplicate source name %q", d.Name)
		}
		r.ordered = append(r.ordered, d)
		r.byName[d.Name] = d
	}
	return r, nil
}

// All returns the descriptors in configuration order.
func (r *Registry) All() []Descriptor { return r.ordered }

// Get returns the descriptor for a source name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int { return len(r.ordered) }

// Row is one upstream record. PGID is the source's natural identifier
// as a string; composite-keyed sources use a stable concatenation
// computed identically during sync and hydration.
type Row struct {
	Source    string
	PGID      string
	Text      string
	Extras    map[string]any
	UpdatedAt time.Time
}

// Key returns the globally unique "source:pg_id" pair as a map key.
func (r Row) Key() string { return Key(r.Source, r.PGID) }

// Key builds the global row key for a source and pg_id.
func Key(src, pgID string) string {
	return fmt.Sprintf("%s:%s", src, pgID)
}

// HashText digests normalized text for change detection. Rows re-embed
// only when this digest differs from the stored one.
func HashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Cursor is the keyset position of an incremental fetch. The first page
// of a cycle carries only Watermark and fetches rows at or after it;
// later pages carry the (Watermark, LastID) pair of the last row seen,
// so rows sharing one updated_at across page boundaries are not lost.
// Offset paginates full scans for sources without an updated_at column.
type Cursor struct {
	Watermark time.Time
	LastID    string
	Offset    int
}

// Advance moves the cursor past a fetched page.
func (c Cursor) Advance(rows []Row) Cursor {
	if len(rows) == 0 {
		return c
	}
	last := rows[len(rows)-1]
	c.Watermark = last.UpdatedAt
	c.LastID = last.PGID
	c.Offset += len(rows)
	return c
}

// Reader pulls rows from the upstream metadata database.
type Reader interface {
	// FetchSince returns up to limit rows at or after the cursor
	// position, ordered by (updated_at, id) ascending. For sources
	// without an updated_at_field the cursor's Offset paginates a full
	// scan instead.
	FetchSince(ctx context.Context, d Descriptor, cur Cursor, limit int) ([]Row, error)
	// FetchByIDs returns rows matching the given pg_ids. Missing ids are
	// skipped, not errors.
	FetchByIDs(ctx context.Context, d Descriptor, pgIDs []string) ([]Row, error)
	// SearchKeyword does a case-insensitive substring match on the text
	// field for the keyword fallback endpoint.
	SearchKeyword(ctx context.Context, d Descriptor, keyword string, limit int) ([]Row, error)
	// Count returns the number of rows in the source relation.
	Count(ctx context.Context, d Descriptor) (int64, error)
}
