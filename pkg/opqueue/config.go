package opqueue

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/opqueue/internal/config"
)

// Config is the complete client configuration.
type Config = config.Config

// RunnerConfig controls the background batch trigger.
type RunnerConfig = config.RunnerConfig

// DefaultConfig returns a configuration backed by the in-memory cache with
// every audit sink disabled.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads path (YAML or JSON) when it is non-empty and then applies
// OPQUEUE_* environment variables. The result is validated.
func LoadConfig(path string) (*Config, error) {
	m := config.NewManager()
	if path != "" {
		if err := m.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := m.LoadFromEnv(); err != nil {
		return nil, err
	}
	return m.Config(), nil
}

// ConfigYAML renders cfg as YAML.
func ConfigYAML(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return yaml.Marshal(cfg)
}
