package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/internal/config"
)

const sampleYAML = `
postgres:
  dsn: sqlite:///tmp/hermes.db
vector_store:
  type: hnsw
  path: /tmp/hermes-index
embedding:
  backend: static
  model: bge-m3
  dim: 768
sources:
  - name: bitmagnet_torrents
    table_or_view: torrents
    id_field: info_hash
    text_field: name
    updated_at_field: updated_at
  - name: content
    table_or_view: content_search_view
    id_field: pg_id
    text_field: search_text
    content_type: movie
    tmdb_enrich: true
    batch_size: 64
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hermes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, "hermes", cfg.Bitmagnet.Schema)
	assert.Equal(t, config.DefaultFetchK, cfg.Search.FetchK)
	assert.Equal(t, config.DefaultNSFWThreshold, cfg.NSFWThreshold)
	assert.Equal(t, config.DefaultExpandTimeout, cfg.TMDB.ExpandTimeout())
}

func TestLoadParsesSources(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	d, ok := reg.Get("content")
	require.True(t, ok)
	assert.True(t, d.TMDBEnrich)
	assert.Equal(t, 64, cfg.BatchSizeFor(d))

	torrents, ok := reg.Get("bitmagnet_torrents")
	require.True(t, ok)
	assert.Equal(t, config.DefaultBatchSize, cfg.BatchSizeFor(torrents))
}

func TestLoadRejectsMissingSourceFields(t *testing.T) {
	bad := `
postgres:
  dsn: sqlite:///tmp/hermes.db
vector_store:
  type: hnsw
  path: /tmp/hermes-index
embedding:
  backend: static
  dim: 768
sources:
  - name: broken
    table_or_view: torrents
    text_field: name
`
	_, err := config.Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Equal(t, fault.KindConfigInvalid, fault.KindOf(err))
}

func TestLoadRejectsDimDisagreement(t *testing.T) {
	bad := `
postgres:
  dsn: sqlite:///tmp/hermes.db
vector_store:
  type: hnsw
  path: /tmp/hermes-index
  dim: 1024
embedding:
  backend: static
  dim: 768
sources:
  - name: t
    table_or_view: torrents
    id_field: id
    text_field: name
`
	_, err := config.Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Equal(t, fault.KindConfigInvalid, fault.KindOf(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HERMES_POSTGRES_DSN", "postgres://hermes@db/hermes")
	t.Setenv("HERMES_LOG_FORMAT", "json")

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "postgres://hermes@db/hermes", cfg.Postgres.DSN)
	assert.Equal(t, config.LogFormatJSON, cfg.Log.Format)
}

func TestTimeoutHelpers(t *testing.T) {
	cfg := config.New()
	cfg.VectorStore.TimeoutSeconds = 2.5
	assert.Equal(t, 2500*time.Millisecond, cfg.VectorStore.Timeout())
	assert.Equal(t, config.DefaultVectorSearchTimeout, cfg.VectorStore.SearchTimeout())
}

func TestParseAPIKeys(t *testing.T) {
	a := config.AuthConfig{APIKeys: "key-one, key-two,,key-three"}
	assert.Equal(t, []string{"key-one", "key-two", "key-three"}, a.ParseAPIKeys())
}
