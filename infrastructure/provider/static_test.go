package provider_test

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/infrastructure/provider"
	"github.com/followcat/HermesIndex/internal/config"
)

func staticConfig() config.EmbeddingConfig {
	cfg := config.New().Embedding
	cfg.Backend = "static"
	cfg.Dim = 64
	return cfg
}

func TestStaticDeterministic(t *testing.T) {
	e := provider.NewStaticEmbedder(staticConfig())
	a, err := e.Embed(context.Background(), []string{"The Matrix 1999"}, search.RoleDocument)
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"The Matrix 1999"}, search.RoleQuery)
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
}

func TestStaticVectorsNormalized(t *testing.T) {
	e := provider.NewStaticEmbedder(staticConfig())
	vecs, err := e.Embed(context.Background(), []string{"盗梦空间 Inception"}, search.RoleDocument)
	require.NoError(t, err)

	var sum float64
	for _, v := range vecs[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmptyText(t *testing.T) {
	e := provider.NewStaticEmbedder(staticConfig())
	vecs, err := e.Embed(context.Background(), []string{"   "}, search.RoleDocument)
	require.NoError(t, err)
	assert.Len(t, vecs[0], 64)
	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
}

func TestStaticVersionHasLocalSuffix(t *testing.T) {
	e := provider.NewStaticEmbedder(staticConfig())
	assert.True(t, strings.HasSuffix(e.Version(), "-local"))
}

func TestNewEmbedderSelectsBackend(t *testing.T) {
	cfg := staticConfig()
	e, err := provider.NewEmbedder(cfg)
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())

	cfg.Backend = "bogus"
	_, err = provider.NewEmbedder(cfg)
	assert.Error(t, err)
}
