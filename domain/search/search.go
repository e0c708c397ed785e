// Package search holds the result model and merge rules for the search
// orchestrator, plus the embedder contract both sync and search share.
package search

import (
	"context"
	"sort"
)

// Role selects the instruction prefix applied before embedding.
type Role string

const (
	// RoleQuery embeds a search query.
	RoleQuery Role = "query"
	// RoleDocument embeds an indexed document.
	RoleDocument Role = "document"
)

// Embedder converts normalized text into vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order. Role
	// controls the optional retrieval prefix.
	Embed(ctx context.Context, texts []string, role Role) ([][]float32, error)
	// Classify returns an nsfw score in [0, 1] per input text.
	Classify(ctx context.Context, texts []string) ([]float32, error)
	// Version identifies the model, dimension and normalization rules.
	// Stored hashes are only comparable under an equal version.
	Version() string
	// Dimension returns the vector dimension the backend produces.
	Dimension() int
}

// Result is one search hit after merging and hydration.
type Result struct {
	Source    string         `json:"source"`
	PGID      string         `json:"pg_id"`
	Title     string         `json:"title,omitempty"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Secondary bool           `json:"secondary,omitempty"`
}

// Timings records per-stage latency in milliseconds, reported under
// _debug when requested.
type Timings struct {
	TMDBExpand    int64          `json:"tmdb_expand"`
	Embed         int64          `json:"embed"`
	Qdrant        int64          `json:"qdrant"`
	EnglishSearch int64          `json:"english_search"`
	PGLoop        int64          `json:"pg_loop"`
	Total         int64          `json:"total"`
	PGSources     []SourceTiming `json:"pg_sources,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// SourceTiming is the hydration latency for one source.
type SourceTiming struct {
	Source    string `json:"source"`
	PGFetchMS int64  `json:"pg_fetch_ms"`
}

// Page is a search response.
type Page struct {
	Results    []Result `json:"results"`
	NextCursor *int     `json:"next_cursor,omitempty"`
	Debug      *Timings `json:"_debug,omitempty"`
}

// Expansion is the query expander's output.
type Expansion struct {
	// ExpandedQuery is the original query followed by expansion tokens.
	ExpandedQuery string
	// English is the top ASCII tokens joined with spaces, used for the
	// cross-language secondary query.
	English string
}

// Merge concatenates primary and secondary hits, dedupes by
// (source, pg_id) keeping the maximum score, sorts by descending score
// with ties broken by source then pg_id ascending, and truncates to
// limit. The result is the same for any completion order of the inputs.
func Merge(primary, secondary []Result, limit int) []Result {
	best := make(map[string]int, len(primary)+len(secondary))
	merged := make([]Result, 0, len(primary)+len(secondary))
	absorb := func(results []Result, fromSecondary bool) {
		for _, r := range results {
			r.Secondary = fromSecondary
			key := r.Source + "\x00" + r.PGID
			if i, seen := best[key]; seen {
				if r.Score > merged[i].Score {
					merged[i] = r
				}
				continue
			}
			best[key] = len(merged)
			merged = append(merged, r)
		}
	}
	absorb(primary, false)
	absorb(secondary, true)
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.PGID < b.PGID
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
