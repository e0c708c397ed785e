package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/textnorm"
	"github.com/followcat/HermesIndex/internal/config"
)

// OpenAIEmbedder embeds through an OpenAI-compatible embeddings API.
// The API has no nsfw classifier, so Classify returns zero scores.
type OpenAIEmbedder struct {
	client      *openai.Client
	model       string
	dim         int
	queryPrefix string
	docPrefix   string
	maxBatch    int
	maxRetries  int
	gate        *gate
}

var _ search.Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder backed by an OpenAI-compatible
// endpoint. A custom URL points the client at a self-hosted server.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientCfg.BaseURL = cfg.URL
	}
	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		dim:         cfg.Dim,
		queryPrefix: cfg.QueryPrefix,
		docPrefix:   cfg.DocumentPrefix,
		maxBatch:    cfg.MaxBatch,
		maxRetries:  cfg.MaxRetries,
		gate:        newGate(cfg.MaxInFlight, cfg.QueueDepth),
	}
}

// Version identifies the model, dimension and normalization revision.
func (o *OpenAIEmbedder) Version() string {
	return fmt.Sprintf("%s@%d+%s", o.model, o.dim, textnorm.Revision)
}

// Dimension returns the configured vector dimension.
func (o *OpenAIEmbedder) Dimension() int { return o.dim }

// Embed returns one vector per text, in input order.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string, role search.Role) ([][]float32, error) {
	prefix := o.docPrefix
	if role == search.RoleQuery {
		prefix = o.queryPrefix
	}
	out := make([][]float32, 0, len(texts))
	for _, batch := range chunk(texts, o.maxBatch) {
		inputs := make([]string, len(batch))
		for i, t := range batch {
			inputs[i] = prefix + t
		}
		vectors, err := o.embedBatch(ctx, inputs)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (o *OpenAIEmbedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := o.gate.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.gate.release()

	var resp openai.EmbeddingResponse
	err := withRetry(ctx, o.maxRetries, isOpenAITransient, func() error {
		var callErr error
		resp, callErr = o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(o.model),
			Input: inputs,
		})
		return callErr
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindEmbedUnavailable, "openai embeddings", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fault.Newf(fault.KindEmbedUnavailable,
			"openai returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Classify returns zero scores; the embeddings API has no classifier.
func (o *OpenAIEmbedder) Classify(_ context.Context, texts []string) ([]float32, error) {
	return make([]float32, len(texts)), nil
}

func isOpenAITransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Transport-level failures carry no status; retry them.
	return true
}
