// Package config provides configuration management for Lethe.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("lethe.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("lethe.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention LETHE_SECTION_FIELD:
//
//   - LETHE_GATE_COOLDOWN overrides gate.cooldown
//   - LETHE_EVICTION_REDIS_ADDR overrides eviction.redis.addr
//   - LETHE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Singleton Pattern
//
// The daemon stores the loaded configuration with Initialize and reads it
// with GetConfig. Libraries take explicit sections instead.
package config
