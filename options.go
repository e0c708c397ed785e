package hermes

import (
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

// clientConfig holds construction-time settings for the Client.
type clientConfig struct {
	configPath string
	cfg        *config.Config
	logger     *log.Logger
	embedder   search.Embedder
	vectors    vector.Store
}

// Option configures the Client.
type Option func(*clientConfig)

// WithConfigFile loads configuration from a YAML file, with environment
// overrides applied on top.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) {
		c.configPath = path
	}
}

// WithConfig uses an already-built configuration, skipping file and
// environment loading.
func WithConfig(cfg config.Config) Option {
	return func(c *clientConfig) {
		c.cfg = &cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithEmbedder sets a custom embedding backend, overriding the
// configured one.
func WithEmbedder(e search.Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithVectorStore sets a custom vector store, overriding the configured
// one.
func WithVectorStore(s vector.Store) Option {
	return func(c *clientConfig) {
		c.vectors = s
	}
}
