package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
)

func searchFixture(t *testing.T) (*Search, *fakeReader, *fakeVectorStore, *fakeEmbedder) {
	t.Helper()
	cfg := config.New()
	cfg.Sources = []source.Descriptor{moviesSource}
	registry, err := source.NewRegistry(cfg.Sources)
	require.NoError(t, err)

	reader := newFakeReader()
	vectors := newFakeVectorStore()
	embedder := newFakeEmbedder()
	enrich := &fakeEnrichmentStore{
		rows: []enrichment.Row{{
			Title: "黑客帝国", AKA: "黑客帝国, The Matrix", Keywords: "cyberpunk",
			Status: enrichment.StatusOK,
		}},
	}
	expander := NewExpander(enrich, time.Second, testLogger())
	svc := NewSearch(cfg, registry, reader, embedder, vectors, expander, testLogger())
	return svc, reader, vectors, embedder
}

func moviePoint(id int64, pgID string, vec []float32, extra map[string]any) vector.Point {
	payload := map[string]any{"source": "movies", "pg_id": pgID}
	for k, v := range extra {
		payload[k] = v
	}
	return vector.Point{ID: id, Vector: vec, Payload: payload}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc, _, _, _ := searchFixture(t)

	_, err := svc.Search(context.Background(), SearchRequest{Query: "   "})
	assert.True(t, fault.IsKind(err, fault.KindEmptyQuery))
}

func TestSearchPrimaryOnly(t *testing.T) {
	svc, reader, vectors, _ := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{
		moviePoint(1, "10", []float32{1, 0}, nil),
		moviePoint(2, "11", []float32{0.5, 0}, nil),
	})
	require.NoError(t, err)
	reader.rows["movies"] = []source.Row{
		{Source: "movies", PGID: "10", Text: "Blade Runner", Extras: map[string]any{"year": 1982}},
		{Source: "movies", PGID: "11", Text: "Dune"},
	}

	page, err := svc.Search(ctx, SearchRequest{Query: "classic sci-fi", Debug: true})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "10", page.Results[0].PGID)
	assert.Equal(t, "Blade Runner", page.Results[0].Title)
	assert.Equal(t, 1982, page.Results[0].Metadata["year"])
	assert.Greater(t, page.Results[0].Score, page.Results[1].Score)
	assert.Nil(t, page.NextCursor)

	require.NotNil(t, page.Debug)
	require.Len(t, page.Debug.PGSources, 1)
	assert.Equal(t, "movies", page.Debug.PGSources[0].Source)
}

func TestSearchCrossLanguageHop(t *testing.T) {
	svc, reader, vectors, embedder := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{
		moviePoint(1, "10", []float32{1, 0}, nil),
		moviePoint(2, "11", []float32{0, 1}, nil),
	})
	require.NoError(t, err)
	reader.rows["movies"] = []source.Row{
		{Source: "movies", PGID: "10", Text: "黑客帝国"},
		{Source: "movies", PGID: "11", Text: "The Matrix"},
	}
	// The secondary English query points at the other cluster.
	embedder.vectors["The Matrix cyberpunk"] = []float32{0, 1}

	page, err := svc.Search(ctx, SearchRequest{Query: "黑客帝国", TMDBExpand: true, Debug: true})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)

	var secondarySeen bool
	for _, r := range page.Results {
		if r.PGID == "11" {
			secondarySeen = r.Secondary
		}
	}
	assert.True(t, secondarySeen)
}

func TestSearchNoCrossLanguageForASCIIQuery(t *testing.T) {
	svc, reader, vectors, embedder := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{moviePoint(1, "10", []float32{1, 0}, nil)})
	require.NoError(t, err)
	reader.rows["movies"] = []source.Row{{Source: "movies", PGID: "10", Text: "The Matrix"}}

	_, err = svc.Search(ctx, SearchRequest{Query: "matrix", TMDBExpand: true})
	require.NoError(t, err)
	assert.Len(t, embedder.calls, 1)
}

func TestSearchFilters(t *testing.T) {
	svc, reader, vectors, _ := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{
		moviePoint(1, "10", []float32{1, 0}, map[string]any{"nsfw": false, "size": float64(5 << 30)}),
		moviePoint(2, "11", []float32{1, 0}, map[string]any{"nsfw": true, "size": float64(5 << 30)}),
		moviePoint(3, "12", []float32{1, 0}, map[string]any{"nsfw": false, "size": float64(1 << 20)}),
	})
	require.NoError(t, err)
	reader.rows["movies"] = []source.Row{
		{Source: "movies", PGID: "10", Text: "Big Clean"},
		{Source: "movies", PGID: "11", Text: "Flagged"},
		{Source: "movies", PGID: "12", Text: "Tiny"},
	}

	page, err := svc.Search(ctx, SearchRequest{
		Query:        "anything",
		ExcludeNSFW:  true,
		SizeMinBytes: 1 << 30,
	})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "10", page.Results[0].PGID)
}

func TestSearchQueryLanguageFilter(t *testing.T) {
	svc, reader, vectors, _ := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{
		moviePoint(1, "10", []float32{1, 0}, map[string]any{
			"languages": []string{"zh", "en"},
			"subtitles": []string{"zh"},
		}),
		moviePoint(2, "11", []float32{1, 0}, map[string]any{
			"languages": []string{"en"},
			"subtitles": []string{"en"},
		}),
	})
	require.NoError(t, err)
	reader.rows["movies"] = []source.Row{
		{Source: "movies", PGID: "10", Text: "双语版"},
		{Source: "movies", PGID: "11", Text: "English only"},
	}

	page, err := svc.Search(ctx, SearchRequest{Query: "国语"})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "10", page.Results[0].PGID)
}

func TestSearchPagination(t *testing.T) {
	svc, reader, vectors, _ := searchFixture(t)
	ctx := context.Background()

	points := make([]vector.Point, 5)
	rows := make([]source.Row, 5)
	for i := range points {
		pgID := string(rune('a' + i))
		points[i] = moviePoint(int64(i+1), pgID, []float32{1 - float32(i)*0.1, 0}, nil)
		rows[i] = source.Row{Source: "movies", PGID: pgID, Text: "title " + pgID}
	}
	_, err := vectors.Upsert(ctx, points)
	require.NoError(t, err)
	reader.rows["movies"] = rows

	first, err := svc.Search(ctx, SearchRequest{Query: "anything", TopK: 2})
	require.NoError(t, err)
	require.Len(t, first.Results, 2)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, 2, *first.NextCursor)

	second, err := svc.Search(ctx, SearchRequest{Query: "anything", TopK: 2, Cursor: *first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Results, 2)
	assert.NotEqual(t, first.Results[0].PGID, second.Results[0].PGID)
}

func TestSearchEmbedFailureSurfaces(t *testing.T) {
	svc, _, _, embedder := searchFixture(t)
	embedder.err = fault.New(fault.KindEmbedUnavailable, "gpu down")

	_, err := svc.Search(context.Background(), SearchRequest{Query: "anything"})
	assert.True(t, fault.IsKind(err, fault.KindEmbedUnavailable))
}

func TestSearchHydrationFailureDropsSource(t *testing.T) {
	svc, reader, vectors, _ := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{moviePoint(1, "10", []float32{1, 0}, nil)})
	require.NoError(t, err)
	reader.errs["movies"] = errors.New("relation gone")

	page, err := svc.Search(ctx, SearchRequest{Query: "anything", Debug: true})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	require.NotNil(t, page.Debug)
	assert.NotEmpty(t, page.Debug.Warnings)
}

func TestSearchLiteSkipsHydration(t *testing.T) {
	svc, reader, vectors, _ := searchFixture(t)
	ctx := context.Background()

	_, err := vectors.Upsert(ctx, []vector.Point{moviePoint(1, "10", []float32{1, 0}, nil)})
	require.NoError(t, err)
	reader.errs["movies"] = errors.New("should not be called")

	page, err := svc.Search(ctx, SearchRequest{Query: "anything", Lite: true})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Empty(t, page.Results[0].Title)
}

func TestSearchKeywordRespectsFlag(t *testing.T) {
	cfg := config.New()
	flagged := moviesSource
	flagged.KeywordSearch = true
	other := moviesSource
	other.Name, other.TableOrView = "tv", "tv"
	cfg.Sources = []source.Descriptor{flagged, other}
	registry, err := source.NewRegistry(cfg.Sources)
	require.NoError(t, err)

	reader := newFakeReader()
	reader.rows["movies"] = []source.Row{{Source: "movies", PGID: "1", Text: "The Matrix"}}
	reader.rows["tv"] = []source.Row{{Source: "tv", PGID: "1", Text: "Matrix Documentary"}}

	svc := NewSearch(cfg, registry, reader, newFakeEmbedder(), newFakeVectorStore(), nil, testLogger())

	results, err := svc.SearchKeyword(context.Background(), "matrix", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "movies", results[0].Source)
}

func TestHydrateSingle(t *testing.T) {
	svc, reader, _, _ := searchFixture(t)
	reader.rows["movies"] = []source.Row{
		{Source: "movies", PGID: "10", Text: "Blade Runner", Extras: map[string]any{"year": 1982}},
	}

	res, err := svc.Hydrate(context.Background(), "movies", "10")
	require.NoError(t, err)
	assert.Equal(t, "Blade Runner", res.Title)

	_, err = svc.Hydrate(context.Background(), "unknown", "10")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	_, err = svc.Hydrate(context.Background(), "movies", "99")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}
