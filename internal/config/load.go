package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/followcat/HermesIndex/domain/fault"
)

// Load reads configuration from a YAML file, applies environment
// overrides, and validates the result. An empty path skips the file and
// configures from defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := New()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fault.Wrap(fault.KindConfigInvalid, "read config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fault.Wrap(fault.KindConfigInvalid, "parse config file", err)
		}
	}
	env, err := LoadFromEnv()
	if err != nil {
		return Config{}, fault.Wrap(fault.KindConfigInvalid, "read environment", err)
	}
	env.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
