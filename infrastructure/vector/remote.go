package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
)

// RemoteCollection talks to a Qdrant-compatible REST backend. Metadata
// calls (ensure, count, delete) and search calls use separate timeouts.
type RemoteCollection struct {
	baseURL      string
	collection   string
	metaClient   *http.Client
	searchClient *http.Client

	// nextID seeds client-side id allocation for points upserted
	// without an id. Re-upserts reuse the id stored in sync state, so
	// only genuinely new points draw from it.
	nextID atomic.Int64
}

var _ vector.Store = (*RemoteCollection)(nil)

// NewRemoteCollection creates a client for a remote collection.
func NewRemoteCollection(cfg config.VectorStoreConfig) *RemoteCollection {
	r := &RemoteCollection{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		collection:   cfg.Collection,
		metaClient:   &http.Client{Timeout: cfg.Timeout()},
		searchClient: &http.Client{Timeout: cfg.SearchTimeout()},
	}
	r.nextID.Store(time.Now().UnixMicro())
	return r
}

func (r *RemoteCollection) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", r.baseURL, r.collection, suffix)
}

type collectionInfo struct {
	Result struct {
		PointsCount int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// Ensure creates the collection when absent and verifies the dimension
// when present.
func (r *RemoteCollection) Ensure(ctx context.Context, dim int, metric vector.Metric) error {
	if metric != vector.MetricCosine {
		return fault.Newf(fault.KindConfigInvalid, "unsupported metric %q", metric)
	}

	var info collectionInfo
	status, err := r.do(ctx, r.metaClient, http.MethodGet, r.collectionURL(""), nil, &info)
	switch {
	case err != nil:
		return err
	case status == http.StatusOK:
		if got := info.Result.Config.Params.Vectors.Size; got != 0 && got != dim {
			return fault.Newf(fault.KindDimMismatch,
				"collection %s has dimension %d, requested %d", r.collection, got, dim)
		}
		return nil
	case status != http.StatusNotFound:
		return fault.Newf(fault.KindVectorUnavail, "collection lookup returned %d", status)
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	status, err = r.do(ctx, r.metaClient, http.MethodPut, r.collectionURL(""), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fault.Newf(fault.KindVectorUnavail, "create collection returned %d", status)
	}
	return nil
}

// Upsert writes points, allocating ids for points without one.
func (r *RemoteCollection) Upsert(ctx context.Context, points []vector.Point) ([]int64, error) {
	ids := make([]int64, len(points))
	payload := make([]map[string]any, len(points))
	for i, p := range points {
		id := p.ID
		if id == 0 {
			id = r.nextID.Add(1)
		}
		ids[i] = id
		payload[i] = map[string]any{
			"id":      id,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	body := map[string]any{"points": payload}
	status, err := r.do(ctx, r.metaClient, http.MethodPut, r.collectionURL("/points?wait=true"), body, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fault.Newf(fault.KindVectorUnavail, "upsert returned %d", status)
	}
	return ids, nil
}

// Delete removes points by id.
func (r *RemoteCollection) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	status, err := r.do(ctx, r.metaClient, http.MethodPost, r.collectionURL("/points/delete?wait=true"), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fault.Newf(fault.KindVectorUnavail, "delete returned %d", status)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      int64          `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Query runs a filtered nearest-neighbour search.
func (r *RemoteCollection) Query(ctx context.Context, queryVector []float32, k int, filter *vector.Filter) ([]vector.Hit, error) {
	body := map[string]any{
		"vector":       queryVector,
		"limit":        k,
		"with_payload": true,
	}
	if f := translateFilter(filter); f != nil {
		body["filter"] = f
	}
	var parsed searchResponse
	status, err := r.do(ctx, r.searchClient, http.MethodPost, r.collectionURL("/points/search"), body, &parsed)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fault.Newf(fault.KindVectorUnavail, "search returned %d", status)
	}
	hits := make([]vector.Hit, len(parsed.Result))
	for i, h := range parsed.Result {
		hits[i] = vector.Hit{ID: h.ID, Score: h.Score, Payload: h.Payload}
	}
	// The backend orders by score; enforce the id tie-break locally.
	for i := 1; i < len(hits); i++ {
		if hits[i].Score == hits[i-1].Score && hits[i].ID < hits[i-1].ID {
			hits[i], hits[i-1] = hits[i-1], hits[i]
		}
	}
	return hits, nil
}

// Count returns the collection's point count.
func (r *RemoteCollection) Count(ctx context.Context) (int64, error) {
	var info collectionInfo
	status, err := r.do(ctx, r.metaClient, http.MethodGet, r.collectionURL(""), nil, &info)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fault.Newf(fault.KindVectorUnavail, "collection lookup returned %d", status)
	}
	return info.Result.PointsCount, nil
}

// Health checks the backend root endpoint.
func (r *RemoteCollection) Health(ctx context.Context) error {
	status, err := r.do(ctx, r.metaClient, http.MethodGet, r.baseURL+"/healthz", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fault.Newf(fault.KindVectorUnavail, "health returned %d", status)
	}
	return nil
}

// Close is a no-op for the remote backend.
func (r *RemoteCollection) Close() error { return nil }

func (r *RemoteCollection) do(ctx context.Context, client *http.Client, method, url string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fault.Wrap(fault.KindVectorUnavail, "vector backend request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fault.Wrap(fault.KindVectorUnavail, "decode vector backend response", err)
		}
	}
	return resp.StatusCode, nil
}

// translateFilter maps the domain filter onto the backend's payload
// filter grammar.
func translateFilter(f *vector.Filter) map[string]any {
	if f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0) {
		return nil
	}
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = translateConditions(f.Must)
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = translateConditions(f.MustNot)
	}
	return out
}

func translateConditions(conds []vector.Condition) []map[string]any {
	out := make([]map[string]any, 0, len(conds))
	for _, c := range conds {
		clause := map[string]any{"key": c.Field}
		switch {
		case c.Range != nil:
			rng := map[string]any{}
			if c.Range.GTE != nil {
				rng["gte"] = *c.Range.GTE
			}
			if c.Range.LT != nil {
				rng["lt"] = *c.Range.LT
			}
			clause["range"] = rng
		case len(c.Values) == 1:
			clause["match"] = map[string]any{"value": c.Values[0]}
		default:
			clause["match"] = map[string]any{"any": c.Values}
		}
		out = append(out, clause)
	}
	return out
}
