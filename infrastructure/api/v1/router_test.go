package v1

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followcat/HermesIndex/application/service"
	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

type stubSearcher struct {
	lastReq   service.SearchRequest
	page      search.Page
	keyword   []search.Result
	hydrated  search.Result
	searchErr error
	hydErr    error
}

func (s *stubSearcher) Search(_ context.Context, req service.SearchRequest) (search.Page, error) {
	s.lastReq = req
	return s.page, s.searchErr
}

func (s *stubSearcher) SearchKeyword(_ context.Context, q string, limit int) ([]search.Result, error) {
	return s.keyword, s.searchErr
}

func (s *stubSearcher) Hydrate(_ context.Context, src, pgID string) (search.Result, error) {
	return s.hydrated, s.hydErr
}

type stubStatus struct {
	report    service.StatusReport
	health    service.HealthReport
	healthErr error
}

func (s *stubStatus) Report(context.Context) (service.StatusReport, error) {
	return s.report, nil
}

func (s *stubStatus) Health(context.Context) (service.HealthReport, error) {
	return s.health, s.healthErr
}

func newTestRouter(searcher *stubSearcher, status *stubStatus) *Router {
	logger := log.NewLoggerWithWriter(io.Discard, config.LogFormatJSON, "ERROR")
	cfg := config.SearchConfig{ExcludeNSFWDefault: true}
	return NewRouter(searcher, status, cfg, logger)
}

func TestSearchDefaultsAndParams(t *testing.T) {
	searcher := &stubSearcher{page: search.Page{Results: []search.Result{
		{Source: "movies", PGID: "1", Score: 0.9},
	}}}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/search?q=akira&topk=5&tmdb_only=true&size_min_bytes=1024&debug=true", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "akira", searcher.lastReq.Query)
	assert.Equal(t, 5, searcher.lastReq.TopK)
	assert.True(t, searcher.lastReq.TMDBOnly)
	assert.Equal(t, int64(1024), searcher.lastReq.SizeMinBytes)
	assert.True(t, searcher.lastReq.Debug)
	// Omitted flags fall back to their defaults.
	assert.True(t, searcher.lastReq.ExcludeNSFW)
	assert.True(t, searcher.lastReq.TMDBExpand)

	var page search.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Results, 1)
	assert.Equal(t, "movies", page.Results[0].Source)
}

func TestSearchExcludeNSFWOverride(t *testing.T) {
	searcher := &stubSearcher{}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/search?q=x&exclude_nsfw=false&tmdb_expand=false", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.False(t, searcher.lastReq.ExcludeNSFW)
	assert.False(t, searcher.lastReq.TMDBExpand)
}

func TestSearchPageSizeAlias(t *testing.T) {
	searcher := &stubSearcher{}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/search?q=x&page_size=7&cursor=14", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, 7, searcher.lastReq.TopK)
	assert.Equal(t, 14, searcher.lastReq.Cursor)
}

func TestSearchEmptyQueryStatus(t *testing.T) {
	searcher := &stubSearcher{searchErr: fault.New(fault.KindEmptyQuery, "empty query")}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/search?q=", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "EMPTY_QUERY", body["error"]["kind"])
}

func TestSearchEmbedUnavailStatus(t *testing.T) {
	searcher := &stubSearcher{searchErr: fault.New(fault.KindEmbedUnavailable, "backend down")}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/search?q=x", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 503, rec.Code)
}

func TestSearchEmptyResultsIsArray(t *testing.T) {
	rt := newTestRouter(&stubSearcher{}, &stubStatus{})

	req := httptest.NewRequest("GET", "/search?q=x", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestSearchKeyword(t *testing.T) {
	searcher := &stubSearcher{keyword: []search.Result{{Source: "movies", PGID: "2"}}}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/search_keyword?q=akira", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body struct {
		Results []search.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "2", body.Results[0].PGID)
}

func TestHydrate(t *testing.T) {
	searcher := &stubSearcher{hydrated: search.Result{Source: "movies", PGID: "3", Title: "Akira"}}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/hydrate?source=movies&id=3", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var result search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Akira", result.Title)
}

func TestHydrateMissingParams(t *testing.T) {
	rt := newTestRouter(&stubSearcher{}, &stubStatus{})

	req := httptest.NewRequest("GET", "/hydrate?source=movies", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestHydrateNotFound(t *testing.T) {
	searcher := &stubSearcher{hydErr: fault.New(fault.KindNotFound, "row not found")}
	rt := newTestRouter(searcher, &stubStatus{})

	req := httptest.NewRequest("GET", "/hydrate?source=movies&id=404", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestStatus(t *testing.T) {
	status := &stubStatus{report: service.StatusReport{
		VectorCount:      42,
		EmbeddingVersion: "fake@2+n1",
	}}
	rt := newTestRouter(&stubSearcher{}, status)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var report service.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(42), report.VectorCount)
	assert.Equal(t, "fake@2+n1", report.EmbeddingVersion)
}

func TestHealth(t *testing.T) {
	status := &stubStatus{health: service.HealthReport{Status: "ok", VectorCount: 7}}
	rt := newTestRouter(&stubSearcher{}, status)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthVectorDown(t *testing.T) {
	status := &stubStatus{healthErr: fault.New(fault.KindVectorUnavail, "store down")}
	rt := newTestRouter(&stubSearcher{}, status)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	rt.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 503, rec.Code)
}
