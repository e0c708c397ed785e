package service

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/domain/state"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

func testLogger() *log.Logger {
	return log.NewLoggerWithWriter(io.Discard, config.LogFormatJSON, "ERROR")
}

// fakeReader serves rows from memory, keyed by source name.
type fakeReader struct {
	rows map[string][]source.Row
	errs map[string]error
}

func newFakeReader() *fakeReader {
	return &fakeReader{rows: make(map[string][]source.Row), errs: make(map[string]error)}
}

func (f *fakeReader) FetchSince(_ context.Context, d source.Descriptor, cur source.Cursor, limit int) ([]source.Row, error) {
	if err := f.errs[d.Name]; err != nil {
		return nil, err
	}
	var out []source.Row
	for _, row := range f.rows[d.Name] {
		if d.UpdatedAtField != "" {
			if cur.LastID != "" {
				after := row.UpdatedAt.After(cur.Watermark) ||
					(row.UpdatedAt.Equal(cur.Watermark) && row.PGID > cur.LastID)
				if !after {
					continue
				}
			} else if row.UpdatedAt.Before(cur.Watermark) {
				continue
			}
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].PGID < out[j].PGID
	})
	if d.UpdatedAtField == "" {
		offset := cur.Offset
		if offset > len(out) {
			offset = len(out)
		}
		out = out[offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeReader) FetchByIDs(_ context.Context, d source.Descriptor, pgIDs []string) ([]source.Row, error) {
	if err := f.errs[d.Name]; err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(pgIDs))
	for _, id := range pgIDs {
		want[id] = true
	}
	var out []source.Row
	for _, row := range f.rows[d.Name] {
		if want[row.PGID] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeReader) SearchKeyword(_ context.Context, d source.Descriptor, keyword string, limit int) ([]source.Row, error) {
	if err := f.errs[d.Name]; err != nil {
		return nil, err
	}
	var out []source.Row
	for _, row := range f.rows[d.Name] {
		if strings.Contains(strings.ToLower(row.Text), strings.ToLower(keyword)) {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeReader) Count(_ context.Context, d source.Descriptor) (int64, error) {
	return int64(len(f.rows[d.Name])), nil
}

// fakeStateStore keeps entries in a map keyed by source:pg_id.
type fakeStateStore struct {
	mu      sync.Mutex
	entries map[string]state.Entry
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{entries: make(map[string]state.Entry)}
}

func (f *fakeStateStore) GetMany(_ context.Context, src string, pgIDs []string) (map[string]state.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]state.Entry)
	for _, id := range pgIDs {
		if e, ok := f.entries[source.Key(src, id)]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (f *fakeStateStore) UpsertMany(_ context.Context, entries []state.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		e.LastError = ""
		f.entries[source.Key(e.Source, e.PGID)] = e
	}
	return nil
}

func (f *fakeStateStore) MarkError(_ context.Context, src, pgID string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[source.Key(src, pgID)]
	e.Source, e.PGID, e.LastError = src, pgID, cause.Error()
	f.entries[source.Key(src, pgID)] = e
	return nil
}

func (f *fakeStateStore) MaxUpdatedAt(_ context.Context, src string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max time.Time
	for _, e := range f.entries {
		if e.Source == src && e.LastError == "" && e.UpdatedAt.After(max) {
			max = e.UpdatedAt
		}
	}
	return max, nil
}

func (f *fakeStateStore) MissingSince(_ context.Context, src string, since time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, e := range f.entries {
		if e.Source == src && e.UpdatedAt.Before(since) {
			ids = append(ids, e.PGID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeStateStore) StaleVersion(_ context.Context, src, version string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Source == src && e.EmbeddingVersion != "" && e.EmbeddingVersion != version {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStateStore) StatsFor(_ context.Context, src string) (state.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats state.Stats
	for _, e := range f.entries {
		if e.Source != src {
			continue
		}
		stats.Total++
		if e.LastError == "" {
			stats.Synced++
		} else {
			stats.Errors++
		}
		if e.UpdatedAt.After(stats.MaxUpdatedAt) {
			stats.MaxUpdatedAt = e.UpdatedAt
		}
	}
	return stats, nil
}

// fakeVectorStore is an exact in-memory store with linear scoring by
// dot product.
type fakeVectorStore struct {
	mu        sync.Mutex
	points    map[int64]vector.Point
	nextID    int64
	upserts   int
	queryErr  error
	upsertErr error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: make(map[int64]vector.Point), nextID: 1}
}

func (f *fakeVectorStore) Ensure(context.Context, int, vector.Metric) error { return nil }

func (f *fakeVectorStore) Upsert(_ context.Context, points []vector.Point) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts++
	ids := make([]int64, len(points))
	for i, p := range points {
		if p.ID == 0 {
			p.ID = f.nextID
			f.nextID++
		}
		f.points[p.ID] = p
		ids[i] = p.ID
	}
	return ids, nil
}

func (f *fakeVectorStore) Delete(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVectorStore) Query(_ context.Context, vec []float32, k int, filter *vector.Filter) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var hits []vector.Hit
	for id, p := range f.points {
		if !filter.Matches(p.Payload) {
			continue
		}
		var score float64
		for i := range vec {
			if i < len(p.Vector) {
				score += float64(vec[i]) * float64(p.Vector[i])
			}
		}
		hits = append(hits, vector.Hit{ID: id, Score: score, Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeVectorStore) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.points)), nil
}

func (f *fakeVectorStore) Health(context.Context) error { return nil }
func (f *fakeVectorStore) Close() error                 { return nil }

// fakeEmbedder maps known texts to fixed vectors; unknown texts get a
// constant vector.
type fakeEmbedder struct {
	mu      sync.Mutex
	version string
	vectors map[string][]float32
	scores  map[string]float32
	calls   []string
	err     error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		version: "fake@2+n1",
		vectors: make(map[string][]float32),
		scores:  make(map[string]float32),
	}
}

func (f *fakeEmbedder) setVersion(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = v
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string, _ search.Role) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		f.calls = append(f.calls, t)
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Classify(_ context.Context, texts []string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float32, len(texts))
	for i, t := range texts {
		out[i] = f.scores[t]
	}
	return out, nil
}

func (f *fakeEmbedder) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *fakeEmbedder) Dimension() int { return 2 }

// fakeEnrichmentStore serves FindMatching from a fixed row list.
type fakeEnrichmentStore struct {
	mu         sync.Mutex
	rows       []enrichment.Row
	candidates []enrichment.Candidate
	upserted   []enrichment.Row
	findErr    error
	delay      time.Duration
}

func (f *fakeEnrichmentStore) Upsert(_ context.Context, row enrichment.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, row)
	return nil
}

func (f *fakeEnrichmentStore) FindMatching(ctx context.Context, term string, limit int) ([]enrichment.Row, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []enrichment.Row
	for _, row := range f.rows {
		haystack := strings.ToLower(row.Title + " " + row.AKA + " " + row.Keywords)
		if strings.Contains(haystack, strings.ToLower(term)) {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEnrichmentStore) Candidates(_ context.Context, limit int) ([]enrichment.Candidate, error) {
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeEnrichmentStore) Get(context.Context, string, string, string) (*enrichment.Row, error) {
	return nil, nil
}

func (f *fakeEnrichmentStore) Count(context.Context) (int64, error) {
	return int64(len(f.rows)), nil
}

// fakeProvider resolves candidates from a fixed map.
type fakeProvider struct {
	rows map[string]*enrichment.Row
	err  error
}

func (f *fakeProvider) Lookup(_ context.Context, c enrichment.Candidate) (*enrichment.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[c.ContentID], nil
}
