package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LETHE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention LETHE_SECTION_FIELD (e.g., LETHE_GATE_COOLDOWN).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from the defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envBool("SERVER_ENABLED", &cfg.Server.Enabled)

	// Policy overrides
	envString("POLICY_TABLE_PATH", &cfg.Policy.TablePath)
	envBool("POLICY_WATCH", &cfg.Policy.Watch)

	// Eviction overrides
	envString("EVICTION_SCHEDULE", &cfg.Eviction.Schedule)
	envDuration("EVICTION_COOLDOWN", &cfg.Eviction.Cooldown)
	envString("EVICTION_COOLDOWN_STORE", &cfg.Eviction.CooldownStore)
	envString("EVICTION_REDIS_ADDR", &cfg.Eviction.Redis.Addr)
	envString("EVICTION_REDIS_PASSWORD", &cfg.Eviction.Redis.Password)
	envInt("EVICTION_REDIS_DB", &cfg.Eviction.Redis.DB)

	// Executor overrides
	envInt("EXECUTOR_WORKERS", &cfg.Executor.Workers)
	envInt("EXECUTOR_QUEUE_SIZE", &cfg.Executor.QueueSize)
	envInt("EXECUTOR_MAX_ATTEMPTS", &cfg.Executor.MaxAttempts)

	// Gate overrides
	envDuration("GATE_COOLDOWN", &cfg.Gate.Cooldown)
	envInt("GATE_KEY_SHARES", &cfg.Gate.KeyShares)
	envString("GATE_MASTER_KEY", &cfg.Gate.MasterKey)
	envString("GATE_MASTER_KEY_FILE", &cfg.Gate.MasterKeyFile)

	// Learning overrides
	envBool("LEARNING_ENABLED", &cfg.Learning.Enabled)
	envFloat("LEARNING_RATE", &cfg.Learning.LearningRate)
	envFloat("LEARNING_RISK_FLOOR", &cfg.Learning.RiskFloor)

	// Storage overrides
	envString("LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("LEDGER_SQLITE_PATH", &cfg.Ledger.SQLite.Path)
	envString("STATE_BACKEND", &cfg.State.Backend)
	envString("STATE_SQLITE_PATH", &cfg.State.SQLite.Path)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
