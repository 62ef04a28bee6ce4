package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "gate.cooldown").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateScoring(&cfg.Scoring)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateBudget(&cfg.Budget)...)
	errs = append(errs, validateEviction(&cfg.Eviction)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateGate(&cfg.Gate)...)
	errs = append(errs, validateLearning(&cfg.Learning)...)
	errs = append(errs, validateBackend("ledger", cfg.Ledger.Backend, &cfg.Ledger.SQLite)...)
	errs = append(errs, validateBackend("state", cfg.State.Backend, &cfg.State.SQLite)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.Enabled && cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server", Message: "timeouts must be positive"})
	}
	return errs
}

var validMethods = map[string]bool{"minmax": true, "log": true, "winsor": true}

var validAxes = map[string]bool{
	"importance": true, "usage": true, "semantic": true,
	"context": true, "risk": true, "redundancy": true,
}

func validateScoring(cfg *ScoringConfig) []FieldError {
	var errs []FieldError
	for name, axis := range cfg.Axes {
		prefix := "scoring.axes." + name
		if name == "temporal" {
			errs = append(errs, FieldError{Field: prefix, Message: "temporal axis is computed and cannot be configured"})
			continue
		}
		if !validAxes[name] {
			errs = append(errs, FieldError{Field: prefix, Message: "unknown axis"})
			continue
		}
		if !validMethods[axis.Method] {
			errs = append(errs, FieldError{
				Field:   prefix + ".method",
				Message: fmt.Sprintf("invalid method %q (valid: minmax, log, winsor)", axis.Method),
			})
		}
		if axis.Max <= axis.Min {
			errs = append(errs, FieldError{Field: prefix, Message: "max must be greater than min"})
		}
		if axis.DomainMax < axis.DomainMin {
			errs = append(errs, FieldError{Field: prefix, Message: "domain_max must not be below domain_min"})
		}
	}
	if cfg.PredictorTimeout < 0 {
		errs = append(errs, FieldError{Field: "scoring.predictor_timeout", Message: "predictor timeout must be positive"})
	}
	return errs
}

var validConstraintKinds = map[string]bool{"min_retention": true, "legal_hold": true, "blocks_shred": true}

func validatePolicy(cfg *PolicyConfig) []FieldError {
	var errs []FieldError
	if cfg.Watch && cfg.TablePath == "" {
		errs = append(errs, FieldError{Field: "policy.watch", Message: "watch requires table_path"})
	}
	for i, c := range cfg.Constraints {
		prefix := fmt.Sprintf("policy.constraints[%d]", i)
		if c.Tag == "" {
			errs = append(errs, FieldError{Field: prefix + ".tag", Message: "tag is required"})
		}
		if !validConstraintKinds[c.Kind] {
			errs = append(errs, FieldError{
				Field:   prefix + ".kind",
				Message: fmt.Sprintf("invalid kind %q (valid: min_retention, legal_hold, blocks_shred)", c.Kind),
			})
		}
		if c.Kind == "min_retention" && c.Retention <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".retention", Message: "min_retention requires a positive retention"})
		}
	}
	return errs
}

func validateBudget(cfg *BudgetConfig) []FieldError {
	var errs []FieldError
	for name, s := range cfg.Scopes {
		prefix := "budget.scopes." + name
		if s.Capacity <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".capacity", Message: "capacity must be positive"})
			continue
		}
		if s.LowWatermark < 0 || s.LowWatermark >= s.HighWatermark {
			errs = append(errs, FieldError{Field: prefix, Message: "low_watermark must be below high_watermark"})
		}
		if s.HighWatermark > s.Capacity {
			errs = append(errs, FieldError{Field: prefix + ".high_watermark", Message: "high_watermark exceeds capacity"})
		}
	}
	if cfg.IngestWindow < 0 {
		errs = append(errs, FieldError{Field: "budget.ingest_window", Message: "ingest window must be positive"})
	}
	return errs
}

func validateEviction(cfg *EvictionConfig) []FieldError {
	var errs []FieldError
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{Field: "eviction.schedule", Message: fmt.Sprintf("invalid schedule: %v", err)})
	}
	if cfg.RiskFactor < 0 {
		errs = append(errs, FieldError{Field: "eviction.risk_factor", Message: "risk factor must be non-negative"})
	}
	if cfg.RedundancyFactor < 0 || cfg.RedundancyFactor > 1 {
		errs = append(errs, FieldError{Field: "eviction.redundancy_factor", Message: "redundancy factor must be within [0, 1]"})
	}
	switch cfg.CooldownStore {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{Field: "eviction.redis.addr", Message: "redis address is required"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "eviction.cooldown_store",
			Message: fmt.Sprintf("invalid cooldown store %q (valid: memory, redis)", cfg.CooldownStore),
		})
	}
	return errs
}

func validateExecutor(cfg *ExecutorConfig) []FieldError {
	var errs []FieldError
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "executor.workers", Message: "at least one worker is required"})
	}
	if cfg.QueueSize < 1 {
		errs = append(errs, FieldError{Field: "executor.queue_size", Message: "queue size must be positive"})
	}
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 20 {
		errs = append(errs, FieldError{Field: "executor.max_attempts", Message: "max attempts must be within [1, 20]"})
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		errs = append(errs, FieldError{Field: "executor.max_interval", Message: "max interval must not be below initial interval"})
	}
	return errs
}

func validateGate(cfg *GateConfig) []FieldError {
	var errs []FieldError
	if cfg.Cooldown < 0 {
		errs = append(errs, FieldError{Field: "gate.cooldown", Message: "cooldown must be non-negative"})
	}
	if cfg.KeyShares < 2 {
		errs = append(errs, FieldError{Field: "gate.key_shares", Message: "key shares must be at least 2"})
	}
	if cfg.MasterKey != "" && cfg.MasterKeyFile != "" {
		errs = append(errs, FieldError{Field: "gate.master_key", Message: "master_key and master_key_file are mutually exclusive"})
	}
	if cfg.MasterKey != "" {
		if key, err := hex.DecodeString(strings.TrimSpace(cfg.MasterKey)); err != nil || len(key) != 32 {
			errs = append(errs, FieldError{Field: "gate.master_key", Message: "master key must be 32 hex-encoded bytes"})
		}
	}
	return errs
}

func validateLearning(cfg *LearningConfig) []FieldError {
	var errs []FieldError
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		errs = append(errs, FieldError{Field: "learning.learning_rate", Message: "learning rate must be within (0, 1]"})
	}
	if cfg.MaxStep <= 0 {
		errs = append(errs, FieldError{Field: "learning.max_step", Message: "max step must be positive"})
	}
	if cfg.RiskFloor < 0 || cfg.RiskFloor >= 1 {
		errs = append(errs, FieldError{Field: "learning.risk_floor", Message: "risk floor must be within [0, 1)"})
	}
	if cfg.TauMin <= 0 || cfg.TauMax < cfg.TauMin {
		errs = append(errs, FieldError{Field: "learning.tau_min", Message: "tau bounds must satisfy 0 < tau_min <= tau_max"})
	}
	if cfg.TauFactor < 1 {
		errs = append(errs, FieldError{Field: "learning.tau_factor", Message: "tau factor must be at least 1"})
	}
	if cfg.ThresholdMin < 0 || cfg.ThresholdMax > 1 || cfg.ThresholdMax < cfg.ThresholdMin {
		errs = append(errs, FieldError{Field: "learning.threshold_min", Message: "threshold bounds must satisfy 0 <= min <= max <= 1"})
	}
	if cfg.SnapshotEvery < 1 || cfg.MaxSnapshots < 1 {
		errs = append(errs, FieldError{Field: "learning.snapshot_every", Message: "snapshot settings must be positive"})
	}
	return errs
}

func validateBackend(section, backend string, sqlite *SQLiteConfig) []FieldError {
	var errs []FieldError
	switch backend {
	case "memory":
	case "sqlite":
		if sqlite.Path == "" {
			errs = append(errs, FieldError{Field: section + ".sqlite.path", Message: "sqlite path is required"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   section + ".backend",
			Message: fmt.Sprintf("invalid backend %q (valid: sqlite, memory)", backend),
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", cfg.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (valid: json, text)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled {
		validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
		if !validSamplers[cfg.Tracing.Sampler] {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (valid: always, never, ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be within [0, 1]"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}
	return errs
}
