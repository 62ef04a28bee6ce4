package config

import (
	"fmt"
	"sync/atomic"
)

// current holds the process-wide configuration loaded by the daemon.
var current atomic.Pointer[Config]

// Initialize loads configuration from path with environment overrides and
// stores it as the process configuration. It may be called again to reload;
// the stored configuration only changes when loading succeeds.
func Initialize(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	current.Store(cfg)
	return cfg, nil
}

// GetConfig returns the process configuration, or nil before Initialize.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the process configuration. Intended for tests.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// MustGetConfig returns the process configuration and panics if it has not
// been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
