package config

import (
	"github.com/kelseyhightower/envconfig"
)

// EnvOverrides holds the environment variables that may override the
// YAML file. Variables use the HERMES_ prefix; only set variables are
// applied.
type EnvOverrides struct {
	// Env: HERMES_HOST
	Host string `envconfig:"HOST"`

	// Env: HERMES_PORT
	Port int `envconfig:"PORT"`

	// Env: HERMES_LOG_LEVEL
	LogLevel string `envconfig:"LOG_LEVEL"`

	// Env: HERMES_LOG_FORMAT (pretty or json)
	LogFormat string `envconfig:"LOG_FORMAT"`

	// Env: HERMES_POSTGRES_DSN
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// Env: HERMES_SCHEMA
	Schema string `envconfig:"SCHEMA"`

	// Env: HERMES_EMBEDDING_URL
	EmbeddingURL string `envconfig:"EMBEDDING_URL"`

	// Env: HERMES_EMBEDDING_API_KEY
	EmbeddingAPIKey string `envconfig:"EMBEDDING_API_KEY"`

	// Env: HERMES_VECTOR_STORE_URL
	VectorStoreURL string `envconfig:"VECTOR_STORE_URL"`

	// Env: HERMES_VECTOR_STORE_PATH
	VectorStorePath string `envconfig:"VECTOR_STORE_PATH"`

	// Env: HERMES_TMDB_API_KEY
	TMDBAPIKey string `envconfig:"TMDB_API_KEY"`

	// Env: HERMES_AUTH_ADMIN_PASSWORD
	AuthAdminPassword string `envconfig:"AUTH_ADMIN_PASSWORD"`

	// Env: HERMES_AUTH_API_KEYS (comma-separated)
	AuthAPIKeys string `envconfig:"AUTH_API_KEYS"`
}

// LoadFromEnv reads HERMES_-prefixed overrides from the environment.
func LoadFromEnv() (EnvOverrides, error) {
	var env EnvOverrides
	if err := envconfig.Process("HERMES", &env); err != nil {
		return EnvOverrides{}, err
	}
	return env, nil
}

// Apply copies set overrides onto the config.
func (e EnvOverrides) Apply(cfg *Config) {
	if e.Host != "" {
		cfg.Server.Host = e.Host
	}
	if e.Port != 0 {
		cfg.Server.Port = e.Port
	}
	if e.LogLevel != "" {
		cfg.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		cfg.Log.Format = LogFormat(e.LogFormat)
	}
	if e.PostgresDSN != "" {
		cfg.Postgres.DSN = e.PostgresDSN
	}
	if e.Schema != "" {
		cfg.Bitmagnet.Schema = e.Schema
	}
	if e.EmbeddingURL != "" {
		cfg.Embedding.URL = e.EmbeddingURL
	}
	if e.EmbeddingAPIKey != "" {
		cfg.Embedding.APIKey = e.EmbeddingAPIKey
	}
	if e.VectorStoreURL != "" {
		cfg.VectorStore.URL = e.VectorStoreURL
	}
	if e.VectorStorePath != "" {
		cfg.VectorStore.Path = e.VectorStorePath
	}
	if e.TMDBAPIKey != "" {
		cfg.TMDB.APIKey = e.TMDBAPIKey
	}
	if e.AuthAdminPassword != "" {
		cfg.Auth.AdminPassword = e.AuthAdminPassword
	}
	if e.AuthAPIKeys != "" {
		cfg.Auth.APIKeys = e.AuthAPIKeys
	}
}
