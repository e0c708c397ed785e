// Package v1 implements the public HTTP endpoints.
package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/followcat/HermesIndex/application/service"
	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/infrastructure/api/middleware"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

// Searcher is the slice of the search service the router needs.
type Searcher interface {
	Search(ctx context.Context, req service.SearchRequest) (search.Page, error)
	SearchKeyword(ctx context.Context, q string, limit int) ([]search.Result, error)
	Hydrate(ctx context.Context, src, pgID string) (search.Result, error)
}

// StatusReporter is the slice of the status service the router needs.
type StatusReporter interface {
	Report(ctx context.Context) (service.StatusReport, error)
	Health(ctx context.Context) (service.HealthReport, error)
}

// Router wires the search and status services to their routes.
type Router struct {
	searcher Searcher
	status   StatusReporter
	cfg      config.SearchConfig
	logger   *log.Logger
}

// NewRouter creates the v1 router.
func NewRouter(searcher Searcher, status StatusReporter, cfg config.SearchConfig, logger *log.Logger) *Router {
	return &Router{searcher: searcher, status: status, cfg: cfg, logger: logger}
}

// Routes returns the chi router for the v1 endpoints.
func (rt *Router) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/search", rt.Search)
	router.Get("/search_keyword", rt.SearchKeyword)
	router.Get("/hydrate", rt.Hydrate)
	router.Get("/status", rt.Status)
	router.Get("/health", rt.Health)
	return router
}

// Search handles GET /search.
func (rt *Router) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.SearchRequest{
		Query:        q.Get("q"),
		TopK:         intParam(q.Get("topk"), 0),
		FetchK:       intParam(q.Get("fetch_k"), 0),
		ExcludeNSFW:  boolParam(q.Get("exclude_nsfw"), rt.cfg.ExcludeNSFWDefault),
		TMDBOnly:     boolParam(q.Get("tmdb_only"), false),
		SizeMinBytes: int64Param(q.Get("size_min_bytes"), 0),
		TMDBExpand:   boolParam(q.Get("tmdb_expand"), true),
		Lite:         boolParam(q.Get("lite"), false),
		Debug:        boolParam(q.Get("debug"), false),
		Cursor:       intParam(q.Get("cursor"), 0),
	}
	if pageSize := intParam(q.Get("page_size"), 0); pageSize > 0 && req.TopK == 0 {
		req.TopK = pageSize
	}

	page, err := rt.searcher.Search(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, r, err, rt.logger)
		return
	}
	if page.Results == nil {
		page.Results = []search.Result{}
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// SearchKeyword handles GET /search_keyword.
func (rt *Router) SearchKeyword(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := rt.searcher.SearchKeyword(r.Context(), q.Get("q"), intParam(q.Get("topk"), 0))
	if err != nil {
		middleware.WriteError(w, r, err, rt.logger)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Hydrate handles GET /hydrate?source&id.
func (rt *Router) Hydrate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src, id := q.Get("source"), q.Get("id")
	if src == "" || id == "" {
		middleware.WriteError(w, r,
			fault.New(fault.KindEmptyQuery, "source and id are required"), rt.logger)
		return
	}
	result, err := rt.searcher.Hydrate(r.Context(), src, id)
	if err != nil {
		middleware.WriteError(w, r, err, rt.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// Status handles GET /status.
func (rt *Router) Status(w http.ResponseWriter, r *http.Request) {
	report, err := rt.status.Report(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err, rt.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// Health handles GET /health.
func (rt *Router) Health(w http.ResponseWriter, r *http.Request) {
	health, err := rt.status.Health(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err, rt.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, health)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func int64Param(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func boolParam(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
