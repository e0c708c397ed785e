// Package config provides application configuration. Settings come from
// a YAML file, overridden by HERMES_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/source"
)

// Default configuration values.
const (
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 8080
	DefaultLogLevel            = "INFO"
	DefaultSchema              = "hermes"
	DefaultBatchSize           = 128
	DefaultSyncInterval        = 300 * time.Second
	DefaultTopK                = 20
	DefaultFetchK              = 100
	DefaultGPUTimeout          = 30 * time.Second
	DefaultEmbedTimeout        = 30 * time.Second
	DefaultEmbedMaxBatch       = 64
	DefaultEmbedMaxInFlight    = 4
	DefaultEmbedQueueDepth     = 32
	DefaultEmbedMaxRetries     = 3
	DefaultVectorTimeout       = 10 * time.Second
	DefaultVectorSearchTimeout = 5 * time.Second
	DefaultEFSearch            = 128
	DefaultNSFWThreshold       = 0.7
	DefaultExpandTimeout       = 1500 * time.Millisecond
	DefaultTMDBBaseURL         = "https://api.themoviedb.org/3"
	DefaultTMDBLanguage        = "zh-CN"
	DefaultTMDBLimit           = 200
	DefaultTMDBSleep           = 2 * time.Second
	DefaultTMDBRatePerSec      = 3.0
	DefaultQueryPrefix         = "为这个句子生成用于检索的向量: "
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig        `yaml:"server"`
	Log         LogConfig           `yaml:"log"`
	Postgres    PostgresConfig      `yaml:"postgres"`
	Bitmagnet   BitmagnetConfig     `yaml:"bitmagnet"`
	VectorStore VectorStoreConfig   `yaml:"vector_store"`
	Embedding   EmbeddingConfig     `yaml:"embedding"`
	Sources     []source.Descriptor `yaml:"sources"`
	Sync        SyncConfig          `yaml:"sync"`
	TMDB        TMDBConfig          `yaml:"tmdb"`
	Search      SearchConfig        `yaml:"search"`
	Auth        AuthConfig          `yaml:"auth"`

	// NSFWThreshold is the score at or above which a row is flagged nsfw.
	NSFWThreshold float64 `yaml:"nsfw_threshold"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string    `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// PostgresConfig configures the relational database connection. DSN
// accepts postgres:// and sqlite:// URLs.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// BitmagnetConfig names the schema this module owns its tables in.
type BitmagnetConfig struct {
	Schema string `yaml:"schema"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	// Type is "hnsw" for the local index or "remote" for a REST
	// collection backend.
	Type string `yaml:"type"`
	// Path is the local index directory (hnsw).
	Path string `yaml:"path"`
	// URL is the backend base URL (remote).
	URL string `yaml:"url"`
	// Collection is the remote collection name.
	Collection string `yaml:"collection"`
	// Dim is the vector dimension; must agree with embedding.dim.
	Dim int `yaml:"dim"`
	// TimeoutSeconds bounds metadata operations (ensure, count, delete).
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	// HTTPTimeoutSeconds bounds search calls separately.
	HTTPTimeoutSeconds float64 `yaml:"http_timeout_seconds"`
	// EFSearch tunes HNSW query breadth.
	EFSearch int `yaml:"ef_search"`
}

// Timeout returns the metadata operation timeout.
func (v VectorStoreConfig) Timeout() time.Duration {
	return secondsOr(v.TimeoutSeconds, DefaultVectorTimeout)
}

// SearchTimeout returns the search call timeout.
func (v VectorStoreConfig) SearchTimeout() time.Duration {
	return secondsOr(v.HTTPTimeoutSeconds, DefaultVectorSearchTimeout)
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// Backend is "remote" (the GPU inference service), "openai"
	// (OpenAI-compatible embeddings API) or "static" (deterministic
	// local fallback for offline use).
	Backend string `yaml:"backend"`
	// URL is the backend base URL.
	URL string `yaml:"url"`
	// Model names the embedding model.
	Model string `yaml:"model"`
	// APIKey authenticates against the openai backend.
	APIKey string `yaml:"api_key"`
	// Dim is the vector dimension the model produces.
	Dim int `yaml:"dim"`
	// TimeoutSeconds bounds one embedding call.
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	// QueryPrefix is prepended to queries for retrieval-tuned models.
	QueryPrefix string `yaml:"query_prefix"`
	// DocumentPrefix is prepended to documents.
	DocumentPrefix string `yaml:"document_prefix"`
	// MaxBatch caps texts per embedding call.
	MaxBatch int `yaml:"max_batch"`
	// MaxInFlight caps concurrent embedding calls.
	MaxInFlight int `yaml:"max_in_flight"`
	// QueueDepth bounds callers waiting for an in-flight slot.
	QueueDepth int `yaml:"queue_depth"`
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries"`
}

// Timeout returns the per-call embedding timeout.
func (e EmbeddingConfig) Timeout() time.Duration {
	return secondsOr(e.TimeoutSeconds, DefaultEmbedTimeout)
}

// SyncConfig configures the sync worker loop.
type SyncConfig struct {
	// BatchSize is the default rows per cycle; sources may override.
	BatchSize int `yaml:"batch_size"`
	// IntervalSeconds is the pause between cycles when a source is
	// caught up.
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

// Interval returns the pause between sync cycles.
func (s SyncConfig) Interval() time.Duration {
	return secondsOr(s.IntervalSeconds, DefaultSyncInterval)
}

// TMDBConfig configures enrichment and query expansion.
type TMDBConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Language for metadata lookups.
	Language string `yaml:"language"`
	// AutoEnrich runs the enrichment worker alongside serve.
	AutoEnrich bool `yaml:"auto_enrich"`
	// QueryExpand enables enrichment-backed expansion at search time.
	QueryExpand bool `yaml:"query_expand"`
	// QueryExpandTimeoutMS bounds the expansion lookup.
	QueryExpandTimeoutMS int `yaml:"query_expand_timeout_ms"`
	// Limit caps candidates per enrichment pass.
	Limit int `yaml:"limit"`
	// SleepSeconds is the pause between enrichment passes in loop mode.
	SleepSeconds float64 `yaml:"sleep_seconds"`
	// RatePerSec is the token-bucket refill rate for API calls.
	RatePerSec float64 `yaml:"rate_per_sec"`
}

// ExpandTimeout returns the expansion lookup budget.
func (t TMDBConfig) ExpandTimeout() time.Duration {
	if t.QueryExpandTimeoutMS > 0 {
		return time.Duration(t.QueryExpandTimeoutMS) * time.Millisecond
	}
	return DefaultExpandTimeout
}

// Sleep returns the pause between enrichment passes.
func (t TMDBConfig) Sleep() time.Duration {
	return secondsOr(t.SleepSeconds, DefaultTMDBSleep)
}

// SearchConfig holds search tunables.
type SearchConfig struct {
	TopK int `yaml:"topk"`
	// FetchK is the vector query breadth before merge and pagination.
	FetchK int `yaml:"fetch_k"`
	// GPUTimeoutSeconds bounds query embedding at serve time.
	GPUTimeoutSeconds float64 `yaml:"gpu_timeout_seconds"`
	// ExcludeNSFWDefault applies exclude_nsfw when the request omits it.
	ExcludeNSFWDefault bool `yaml:"exclude_nsfw_default"`
}

// GPUTimeout returns the serve-time embedding budget.
func (s SearchConfig) GPUTimeout() time.Duration {
	return secondsOr(s.GPUTimeoutSeconds, DefaultGPUTimeout)
}

// AuthConfig configures optional API authentication.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	// APIKeys is a comma-separated list of accepted bearer tokens.
	APIKeys         string `yaml:"api_keys"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
}

// ParseAPIKeys splits the configured key list, dropping empties.
func (a AuthConfig) ParseAPIKeys() []string {
	var keys []string
	for _, k := range strings.Split(a.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// New returns a Config populated with defaults.
func New() Config {
	return Config{
		Server: ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Log:    LogConfig{Level: DefaultLogLevel, Format: LogFormatPretty},
		Bitmagnet: BitmagnetConfig{
			Schema: DefaultSchema,
		},
		VectorStore: VectorStoreConfig{
			Type:     "hnsw",
			EFSearch: DefaultEFSearch,
		},
		Embedding: EmbeddingConfig{
			Backend:     "remote",
			QueryPrefix: DefaultQueryPrefix,
			MaxBatch:    DefaultEmbedMaxBatch,
			MaxInFlight: DefaultEmbedMaxInFlight,
			QueueDepth:  DefaultEmbedQueueDepth,
			MaxRetries:  DefaultEmbedMaxRetries,
		},
		Sync: SyncConfig{BatchSize: DefaultBatchSize},
		TMDB: TMDBConfig{
			BaseURL:     DefaultTMDBBaseURL,
			Language:    DefaultTMDBLanguage,
			QueryExpand: true,
			Limit:       DefaultTMDBLimit,
			RatePerSec:  DefaultTMDBRatePerSec,
		},
		Search: SearchConfig{
			TopK:               DefaultTopK,
			FetchK:             DefaultFetchK,
			ExcludeNSFWDefault: true,
		},
		NSFWThreshold: DefaultNSFWThreshold,
	}
}

// Validate checks cross-field constraints. Failures are fatal at
// startup.
func (c Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fault.New(fault.KindConfigInvalid, "postgres.dsn is required")
	}
	switch c.VectorStore.Type {
	case "hnsw":
		if c.VectorStore.Path == "" {
			return fault.New(fault.KindConfigInvalid, "vector_store.path is required for hnsw")
		}
	case "remote":
		if c.VectorStore.URL == "" {
			return fault.New(fault.KindConfigInvalid, "vector_store.url is required for remote")
		}
		if c.VectorStore.Collection == "" {
			return fault.New(fault.KindConfigInvalid, "vector_store.collection is required for remote")
		}
	default:
		return fault.Newf(fault.KindConfigInvalid, "unknown vector_store.type %q", c.VectorStore.Type)
	}
	switch c.Embedding.Backend {
	case "remote":
		if c.Embedding.URL == "" {
			return fault.New(fault.KindConfigInvalid, "embedding.url is required for the remote backend")
		}
	case "openai":
		if c.Embedding.Model == "" {
			return fault.New(fault.KindConfigInvalid, "embedding.model is required for the openai backend")
		}
	case "static":
	default:
		return fault.Newf(fault.KindConfigInvalid, "unknown embedding.backend %q", c.Embedding.Backend)
	}
	if c.Embedding.Dim <= 0 {
		return fault.New(fault.KindConfigInvalid, "embedding.dim must be positive")
	}
	if c.VectorStore.Dim != 0 && c.VectorStore.Dim != c.Embedding.Dim {
		return fault.Newf(fault.KindConfigInvalid,
			"vector_store.dim %d disagrees with embedding.dim %d", c.VectorStore.Dim, c.Embedding.Dim)
	}
	if len(c.Sources) == 0 {
		return fault.New(fault.KindConfigInvalid, "at least one source is required")
	}
	if _, err := source.NewRegistry(c.Sources); err != nil {
		return err
	}
	if c.NSFWThreshold < 0 || c.NSFWThreshold > 1 {
		return fault.New(fault.KindConfigInvalid, "nsfw_threshold must be within [0, 1]")
	}
	return nil
}

// Registry builds the immutable source registry. Call after Validate.
func (c Config) Registry() (*source.Registry, error) {
	return source.NewRegistry(c.Sources)
}

// BatchSizeFor returns the effective sync batch size for a source.
func (c Config) BatchSizeFor(d source.Descriptor) int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	if c.Sync.BatchSize > 0 {
		return c.Sync.BatchSize
	}
	return DefaultBatchSize
}

func secondsOr(seconds float64, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}
