package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/textnorm"
	"github.com/followcat/HermesIndex/internal/config"
)

// RemoteEmbedder calls the GPU inference service over HTTP. The service
// exposes /infer (embeddings plus nsfw scores), /embed, /classify and
// /health.
type RemoteEmbedder struct {
	baseURL        string
	model          string
	dim            int
	queryPrefix    string
	documentPrefix string
	maxBatch       int
	maxRetries     int
	client         *http.Client
	gate           *gate
}

var _ search.Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates a client for the remote embedding service.
func NewRemoteEmbedder(cfg config.EmbeddingConfig) *RemoteEmbedder {
	return &RemoteEmbedder{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		model:          cfg.Model,
		dim:            cfg.Dim,
		queryPrefix:    cfg.QueryPrefix,
		documentPrefix: cfg.DocumentPrefix,
		maxBatch:       cfg.MaxBatch,
		maxRetries:     cfg.MaxRetries,
		client:         &http.Client{Timeout: cfg.Timeout()},
		gate:           newGate(cfg.MaxInFlight, cfg.QueueDepth),
	}
}

// Version identifies the model, dimension and normalization revision.
func (r *RemoteEmbedder) Version() string {
	return fmt.Sprintf("%s@%d+%s", r.model, r.dim, textnorm.Revision)
}

// Dimension returns the configured vector dimension.
func (r *RemoteEmbedder) Dimension() int { return r.dim }

type inferRequest struct {
	Texts []string `json:"texts"`
}

type inferResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	NSFWScores []float32   `json:"nsfw_scores"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text. The role prefix is prepended
// before the request.
func (r *RemoteEmbedder) Embed(ctx context.Context, texts []string, role search.Role) ([][]float32, error) {
	prefixed := r.applyPrefix(texts, role)
	out := make([][]float32, 0, len(texts))
	for _, batch := range chunk(prefixed, r.maxBatch) {
		resp, err := r.post(ctx, "/embed", inferRequest{Texts: batch})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fault.Newf(fault.KindEmbedUnavailable,
				"embedding service returned %d vectors for %d texts", len(resp.Embeddings), len(batch))
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// EmbedWithScores calls /infer, returning vectors and nsfw scores in
// one round trip. The sync pipeline uses this to avoid a second pass.
func (r *RemoteEmbedder) EmbedWithScores(ctx context.Context, texts []string) ([][]float32, []float32, error) {
	prefixed := r.applyPrefix(texts, search.RoleDocument)
	vectors := make([][]float32, 0, len(texts))
	scores := make([]float32, 0, len(texts))
	for _, batch := range chunk(prefixed, r.maxBatch) {
		resp, err := r.post(ctx, "/infer", inferRequest{Texts: batch})
		if err != nil {
			return nil, nil, err
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, nil, fault.Newf(fault.KindEmbedUnavailable,
				"embedding service returned %d vectors for %d texts", len(resp.Embeddings), len(batch))
		}
		vectors = append(vectors, resp.Embeddings...)
		if len(resp.NSFWScores) == len(batch) {
			scores = append(scores, resp.NSFWScores...)
		} else {
			scores = append(scores, make([]float32, len(batch))...)
		}
	}
	return vectors, scores, nil
}

// Classify returns nsfw scores via /classify.
func (r *RemoteEmbedder) Classify(ctx context.Context, texts []string) ([]float32, error) {
	out := make([]float32, 0, len(texts))
	for _, batch := range chunk(texts, r.maxBatch) {
		resp, err := r.post(ctx, "/classify", inferRequest{Texts: batch})
		if err != nil {
			return nil, err
		}
		if len(resp.NSFWScores) != len(batch) {
			return nil, fault.Newf(fault.KindEmbedUnavailable,
				"classify returned %d scores for %d texts", len(resp.NSFWScores), len(batch))
		}
		out = append(out, resp.NSFWScores...)
	}
	return out, nil
}

// Health checks the service's /health endpoint.
func (r *RemoteEmbedder) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindEmbedUnavailable, "embedding health check", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fault.Newf(fault.KindEmbedUnavailable, "embedding health check returned %d", resp.StatusCode)
	}
	return nil
}

func (r *RemoteEmbedder) applyPrefix(texts []string, role search.Role) []string {
	prefix := r.documentPrefix
	if role == search.RoleQuery {
		prefix = r.queryPrefix
	}
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

func (r *RemoteEmbedder) post(ctx context.Context, path string, reqBody inferRequest) (inferResponse, error) {
	if err := r.gate.acquire(ctx); err != nil {
		return inferResponse{}, err
	}
	defer r.gate.release()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return inferResponse{}, err
	}

	var parsed inferResponse
	err = withRetry(ctx, r.maxRetries, isTransient, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fault.Wrap(fault.KindEmbedUnavailable, "embedding request", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fault.Wrap(fault.KindEmbedUnavailable, "read embedding response", err)
		}
		if resp.StatusCode != http.StatusOK {
			return httpStatusError{status: resp.StatusCode, body: string(body)}
		}
		parsed = inferResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fault.Wrap(fault.KindEmbedUnavailable, "decode embedding response", err)
		}
		if parsed.Error != "" {
			return fault.Newf(fault.KindEmbedUnavailable, "embedding service error: %s", parsed.Error)
		}
		return nil
	})
	if err != nil {
		return inferResponse{}, wrapEmbedErr(err)
	}
	return parsed, nil
}

// httpStatusError preserves the status code so retry logic can treat
// gateway errors as transient.
type httpStatusError struct {
	status int
	body   string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("embedding service returned %d: %s", e.status, e.body)
}

func isTransient(err error) bool {
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Wrapped transport failures are retryable; everything else is not.
	return fault.IsKind(err, fault.KindEmbedUnavailable)
}

func wrapEmbedErr(err error) error {
	if fault.KindOf(err) != fault.KindInternal {
		return err
	}
	return fault.Wrap(fault.KindEmbedUnavailable, "embedding request failed", err)
}
