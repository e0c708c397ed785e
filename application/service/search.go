package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/domain/textnorm"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

// SearchRequest carries the parameters of one search call.
type SearchRequest struct {
	Query        string
	TopK         int
	FetchK       int
	ExcludeNSFW  bool
	TMDBOnly     bool
	SizeMinBytes int64
	TMDBExpand   bool
	Lite         bool
	Debug        bool
	Cursor       int
}

// Search orchestrates query expansion, embedding, the primary and
// cross-language vector queries, the deterministic merge and per-source
// hydration.
type Search struct {
	cfg      config.Config
	registry *source.Registry
	reader   source.Reader
	embedder search.Embedder
	vectors  vector.Store
	expander *Expander
	logger   *log.Logger
}

// NewSearch creates the search orchestrator.
func NewSearch(
	cfg config.Config,
	registry *source.Registry,
	reader source.Reader,
	embedder search.Embedder,
	vectors vector.Store,
	expander *Expander,
	logger *log.Logger,
) *Search {
	return &Search{
		cfg:      cfg,
		registry: registry,
		reader:   reader,
		embedder: embedder,
		vectors:  vectors,
		expander: expander,
		logger:   logger,
	}
}

// Search runs the semantic pipeline. Expansion and the secondary query
// degrade silently; embedding and primary vector failures surface to
// the caller.
func (s *Search) Search(ctx context.Context, req SearchRequest) (search.Page, error) {
	started := time.Now()
	timings := &search.Timings{}

	cleaned := textnorm.Clean(req.Query)
	if cleaned == "" {
		return search.Page{}, fault.New(fault.KindEmptyQuery, "query is empty")
	}
	topk := req.TopK
	if topk <= 0 {
		topk = s.cfg.Search.TopK
	}
	fetchK := req.FetchK
	if fetchK <= 0 {
		fetchK = s.cfg.Search.FetchK
	}

	// Static zh->en expansion first, then enrichment-backed tokens.
	expansion := search.Expansion{ExpandedQuery: cleaned}
	if req.TMDBExpand && s.cfg.TMDB.QueryExpand {
		stage := time.Now()
		expansion = s.expander.Expand(ctx, cleaned)
		timings.TMDBExpand = msSince(stage)
	}
	primaryText := textnorm.ExpandStatic(cleaned) +
		strings.TrimPrefix(expansion.ExpandedQuery, cleaned)

	stage := time.Now()
	primaryVec, err := s.embedQuery(ctx, primaryText)
	timings.Embed = msSince(stage)
	if err != nil {
		return search.Page{}, err
	}

	primaryFilter := s.buildFilter(req, cleaned)

	stage = time.Now()
	hits, err := s.vectors.Query(ctx, primaryVec, fetchK, primaryFilter)
	timings.Qdrant = msSince(stage)
	if err != nil {
		return search.Page{}, err
	}
	primary := toResults(hits)

	var secondary []search.Result
	if !textnorm.IsASCII(cleaned) && expansion.English != "" {
		stage = time.Now()
		secondary = s.crossLanguage(ctx, req, expansion.English, fetchK, timings)
		timings.EnglishSearch = msSince(stage)
	}

	merged := search.Merge(primary, secondary, fetchK)

	offset := req.Cursor
	if offset < 0 {
		offset = 0
	}
	if offset > len(merged) {
		offset = len(merged)
	}
	end := min(offset+topk, len(merged))
	page := make([]search.Result, end-offset)
	copy(page, merged[offset:end])

	var nextCursor *int
	if end < len(merged) {
		next := end
		nextCursor = &next
	}

	if !req.Lite {
		stage = time.Now()
		page = s.hydrate(ctx, page, timings)
		timings.PGLoop = msSince(stage)
	}

	timings.Total = msSince(started)
	result := search.Page{Results: page, NextCursor: nextCursor}
	if req.Debug {
		result.Debug = timings
	}
	return result, nil
}

// SearchKeyword is the non-semantic fallback: a per-source substring
// match over sources flagged for keyword search.
func (s *Search) SearchKeyword(ctx context.Context, q string, limit int) ([]search.Result, error) {
	cleaned := textnorm.Clean(q)
	if cleaned == "" {
		return nil, fault.New(fault.KindEmptyQuery, "query is empty")
	}
	if limit <= 0 {
		limit = s.cfg.Search.TopK
	}

	var results []search.Result
	for _, d := range s.registry.All() {
		if !d.KeywordSearch {
			continue
		}
		rows, err := s.reader.SearchKeyword(ctx, d, cleaned, limit)
		if err != nil {
			s.logger.Warn("keyword search failed", "source", d.Name, "error", err)
			continue
		}
		for _, row := range rows {
			results = append(results, search.Result{
				Source:   row.Source,
				PGID:     row.PGID,
				Title:    row.Text,
				Metadata: row.Extras,
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].PGID < results[j].PGID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Hydrate returns the full row for one result.
func (s *Search) Hydrate(ctx context.Context, src, pgID string) (search.Result, error) {
	d, ok := s.registry.Get(src)
	if !ok {
		return search.Result{}, fault.Newf(fault.KindNotFound, "unknown source %q", src)
	}
	rows, err := s.reader.FetchByIDs(ctx, d, []string{pgID})
	if err != nil {
		return search.Result{}, err
	}
	if len(rows) == 0 {
		return search.Result{}, fault.Newf(fault.KindNotFound, "%s not found in %s", pgID, src)
	}
	return search.Result{
		Source:   src,
		PGID:     pgID,
		Title:    rows[0].Text,
		Metadata: rows[0].Extras,
	}, nil
}

func (s *Search) embedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Search.GPUTimeout())
	defer cancel()
	vecs, err := s.embedder.Embed(ctx, []string{text}, search.RoleQuery)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fault.Newf(fault.KindEmbedUnavailable, "expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// buildFilter assembles the primary metadata filter from the request
// flags and from genre, file-type and language words in the query.
func (s *Search) buildFilter(req SearchRequest, cleaned string) *vector.Filter {
	f := &vector.Filter{}
	if req.ExcludeNSFW {
		f.MustNot = append(f.MustNot, vector.Condition{Field: "nsfw", Values: []any{true}})
	}
	if req.TMDBOnly {
		f.Must = append(f.Must, vector.Condition{Field: "has_tmdb", Values: []any{true}})
	}
	if req.SizeMinBytes > 0 {
		gte := float64(req.SizeMinBytes)
		f.Must = append(f.Must, vector.Condition{Field: "size", Range: &vector.Range{GTE: &gte}})
	}
	if genres := textnorm.ExtractGenres(cleaned); len(genres) > 0 {
		f.Must = append(f.Must, vector.Condition{Field: "genres", Values: anyValues(genres)})
	}
	if ft := textnorm.ExtractFileType(cleaned); ft != "" {
		f.Must = append(f.Must, vector.Condition{Field: "file_type", Values: []any{ft}})
	}
	audio, subtitles := textnorm.DetectLanguages(cleaned)
	if len(audio) > 0 {
		f.Must = append(f.Must, vector.Condition{Field: "languages", Values: anyValues(audio)})
	}
	if len(subtitles) > 0 {
		f.Must = append(f.Must, vector.Condition{Field: "subtitles", Values: anyValues(subtitles)})
	}
	if len(f.Must) == 0 && len(f.MustNot) == 0 {
		return nil
	}
	return f
}

func anyValues(ss []string) []any {
	values := make([]any, len(ss))
	for i, s := range ss {
		values[i] = s
	}
	return values
}

// crossLanguage embeds the English expansion and queries with a minimal
// filter. Raw rows lack enrichment metadata, so only the size bound
// applies. Failures degrade to an empty secondary set.
func (s *Search) crossLanguage(ctx context.Context, req SearchRequest, english string, fetchK int, timings *search.Timings) []search.Result {
	vec, err := s.embedQuery(ctx, english)
	if err != nil {
		s.warn(timings, "secondary embed failed: %v", err)
		return nil
	}
	var filter *vector.Filter
	if req.SizeMinBytes > 0 {
		gte := float64(req.SizeMinBytes)
		filter = &vector.Filter{
			Must: []vector.Condition{{Field: "size", Range: &vector.Range{GTE: &gte}}},
		}
	}
	hits, err := s.vectors.Query(ctx, vec, fetchK, filter)
	if err != nil {
		s.warn(timings, "secondary query failed: %v", err)
		return nil
	}
	return toResults(hits)
}

// hydrate fills titles and metadata, grouped by source. Hits from a
// failing source are dropped; unregistered sources are kept bare.
func (s *Search) hydrate(ctx context.Context, results []search.Result, timings *search.Timings) []search.Result {
	bySource := make(map[string][]string)
	for _, r := range results {
		bySource[r.Source] = append(bySource[r.Source], r.PGID)
	}

	type hydrated struct {
		source string
		rows   map[string]source.Row
		ms     int64
		err    error
	}
	out := make(chan hydrated, len(bySource))

	g, ctx := errgroup.WithContext(ctx)
	for name, ids := range bySource {
		name, ids := name, ids
		d, ok := s.registry.Get(name)
		if !ok {
			s.logger.Warn("hit from unregistered source", "source", name)
			s.warn(timings, "source %s not registered", name)
			continue
		}
		g.Go(func() error {
			started := time.Now()
			rows, err := s.reader.FetchByIDs(ctx, d, ids)
			if err != nil {
				out <- hydrated{source: name, err: err}
				return nil
			}
			byID := make(map[string]source.Row, len(rows))
			for _, row := range rows {
				byID[row.PGID] = row
			}
			out <- hydrated{source: name, rows: byID, ms: msSince(started)}
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	fetched := make(map[string]map[string]source.Row, len(bySource))
	failed := make(map[string]bool)
	for h := range out {
		if h.err != nil {
			s.logger.Warn("hydration failed", "source", h.source, "error", h.err)
			s.warn(timings, "hydration failed for %s: %v", h.source, h.err)
			failed[h.source] = true
			continue
		}
		fetched[h.source] = h.rows
		timings.PGSources = append(timings.PGSources, search.SourceTiming{
			Source:    h.source,
			PGFetchMS: h.ms,
		})
	}
	sort.Slice(timings.PGSources, func(i, j int) bool {
		return timings.PGSources[i].Source < timings.PGSources[j].Source
	})

	kept := results[:0]
	for _, r := range results {
		if failed[r.Source] {
			continue
		}
		if row, ok := fetched[r.Source][r.PGID]; ok {
			r.Title = row.Text
			r.Metadata = row.Extras
		}
		kept = append(kept, r)
	}
	return kept
}

func (s *Search) warn(timings *search.Timings, format string, args ...any) {
	timings.Warnings = append(timings.Warnings, fmt.Sprintf(format, args...))
}

func toResults(hits []vector.Hit) []search.Result {
	results := make([]search.Result, 0, len(hits))
	for _, h := range hits {
		src := payloadString(h.Payload, "source")
		pgID := payloadString(h.Payload, "pg_id")
		if src == "" || pgID == "" {
			continue
		}
		results = append(results, search.Result{
			Source: src,
			PGID:   pgID,
			Score:  h.Score,
		})
	}
	return results
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func msSince(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}
