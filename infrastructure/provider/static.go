package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/textnorm"
	"github.com/followcat/HermesIndex/internal/config"
)

// StaticEmbedder generates deterministic hash-based vectors with no
// network or model dependency. Semantic quality is reduced, so its
// version carries a distinct "-local" suffix: the state store must
// never treat its vectors as interchangeable with a real model's.
type StaticEmbedder struct {
	dim int
}

var _ search.Embedder = (*StaticEmbedder)(nil)

// Token and character n-gram contributions to the hashed vector.
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

var staticTokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewStaticEmbedder creates the local fallback embedder.
func NewStaticEmbedder(cfg config.EmbeddingConfig) *StaticEmbedder {
	return &StaticEmbedder{dim: cfg.Dim}
}

// Version carries the -local marker distinguishing fallback vectors.
func (s *StaticEmbedder) Version() string {
	return fmt.Sprintf("static@%d+%s-local", s.dim, textnorm.Revision)
}

// Dimension returns the configured vector dimension.
func (s *StaticEmbedder) Dimension() int { return s.dim }

// Embed generates one vector per text. The role prefix is irrelevant
// for hashed vectors and is ignored.
func (s *StaticEmbedder) Embed(_ context.Context, texts []string, _ search.Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vectorFor(t)
	}
	return out, nil
}

// Classify returns zero scores; the fallback has no classifier.
func (s *StaticEmbedder) Classify(_ context.Context, texts []string) ([]float32, error) {
	return make([]float32, len(texts)), nil
}

func (s *StaticEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, s.dim)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vec
	}
	for _, token := range staticTokenRe.FindAllString(strings.ToLower(trimmed), -1) {
		vec[hashToIndex(token, s.dim)] += staticTokenWeight
	}
	runes := []rune(strings.ToLower(trimmed))
	for i := 0; i+staticNgramSize <= len(runes); i++ {
		vec[hashToIndex(string(runes[i:i+staticNgramSize]), s.dim)] += staticNgramWeight
	}
	return l2Normalize(vec)
}

func hashToIndex(s string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
