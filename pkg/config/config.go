package config

import "time"

// Config is the root configuration structure for Lethe.
// It contains every section of the forgetting core: scoring, policy,
// budgets, eviction, execution, the reversibility gate, learning, the
// ledger, persisted state, and telemetry.
type Config struct {
	// Server contains the admin HTTP server configuration
	// (health, readiness, and metrics endpoints).
	Server ServerConfig `yaml:"server"`

	// Scoring contains per-axis normalization and predictor settings.
	Scoring ScoringConfig `yaml:"scoring"`

	// Policy contains the policy table source and hard constraint rules.
	Policy PolicyConfig `yaml:"policy"`

	// Budget contains the storage budget scopes and watermarks.
	Budget BudgetConfig `yaml:"budget"`

	// Eviction contains the sweep schedule and priority factors.
	Eviction EvictionConfig `yaml:"eviction"`

	// Executor contains the work queue and retry settings.
	Executor ExecutorConfig `yaml:"executor"`

	// Gate contains the reversibility gate settings for stage 8 to 9.
	Gate GateConfig `yaml:"gate"`

	// Learning contains the optimizer bounds and snapshot policy.
	Learning LearningConfig `yaml:"learning"`

	// Ledger contains the decision ledger backend.
	Ledger LedgerConfig `yaml:"ledger"`

	// State contains the persisted core state backend.
	State StateConfig `yaml:"state"`

	// Telemetry contains logging, metrics, and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the admin HTTP server.
type ServerConfig struct {
	// Enabled controls whether the admin server is started by "lethe run".
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address the admin server binds to.
	// Default: "127.0.0.1:9400"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ScoringConfig contains score engine configuration.
type ScoringConfig struct {
	// Axes maps an axis name ("importance", "usage", ...) to its normalizer.
	// Axes not listed use the built-in defaults. The temporal axis is
	// computed and cannot be configured here.
	Axes map[string]AxisConfig `yaml:"axes"`

	// PredictorTimeout bounds each future-access prediction.
	// Default: 200ms
	PredictorTimeout time.Duration `yaml:"predictor_timeout"`
}

// AxisConfig configures the normalizer of one score axis.
type AxisConfig struct {
	// Method is one of "minmax", "log", "winsor".
	Method string `yaml:"method"`

	// Min and Max are the normalization bounds.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// DomainMin and DomainMax bound accepted raw values. Values outside
	// are rejected as invalid signals.
	DomainMin float64 `yaml:"domain_min"`
	DomainMax float64 `yaml:"domain_max"`
}

// PolicyConfig contains policy engine configuration.
type PolicyConfig struct {
	// TablePath is the YAML policy table. Empty uses the built-in table.
	TablePath string `yaml:"table_path"`

	// Watch enables hot reload of TablePath.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events.
	// Default: 100ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// HoldSuffixes are tag suffixes that act as legal holds.
	// Default: ["-hold"]
	HoldSuffixes []string `yaml:"hold_suffixes"`

	// Constraints are the hard constraint tag rules.
	Constraints []ConstraintConfig `yaml:"constraints"`
}

// ConstraintConfig binds a tag to a hard constraint.
type ConstraintConfig struct {
	// Tag is the item tag the rule matches.
	Tag string `yaml:"tag"`

	// Kind is one of "min_retention", "legal_hold", "blocks_shred".
	Kind string `yaml:"kind"`

	// Retention is the minimum age before destructive strategies are
	// allowed. Only used by min_retention.
	Retention time.Duration `yaml:"retention"`
}

// BudgetConfig contains storage budget configuration.
type BudgetConfig struct {
	// Scopes maps a scope identifier ("global", "table:users", ...) to
	// its limits. The global scope is always present.
	Scopes map[string]BudgetScopeConfig `yaml:"scopes"`

	// IngestWindow is the span of the per-scope ingestion rate window.
	// Default: 5m
	IngestWindow time.Duration `yaml:"ingest_window"`
}

// BudgetScopeConfig contains the limits of one budget scope in bytes.
type BudgetScopeConfig struct {
	Capacity      int64 `yaml:"capacity"`
	LowWatermark  int64 `yaml:"low_watermark"`
	HighWatermark int64 `yaml:"high_watermark"`
}

// EvictionConfig contains eviction scheduler configuration.
type EvictionConfig struct {
	// Schedule is the cron expression driving budget evaluation and sweeps.
	// Default: "@every 1m"
	Schedule string `yaml:"schedule"`

	// RiskFactor scales how strongly risk protects an item from eviction.
	// Default: 0.5
	RiskFactor float64 `yaml:"risk_factor"`

	// RedundancyFactor scales how strongly redundancy hastens eviction.
	// Default: 0.5
	RedundancyFactor float64 `yaml:"redundancy_factor"`

	// Cooldown quarantines items refused by hard constraints.
	// Default: 1h
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxCandidates bounds how many items one sweep loads.
	// Default: 10000
	MaxCandidates int `yaml:"max_candidates"`

	// CooldownStore selects "memory" or "redis".
	// Default: "memory"
	CooldownStore string `yaml:"cooldown_store"`

	// Redis configures the shared cooldown store.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ExecutorConfig contains work queue configuration.
type ExecutorConfig struct {
	// Workers is the number of executor goroutines.
	// Default: 4
	Workers int `yaml:"workers"`

	// QueueSize is the work queue capacity.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// MaxAttempts bounds executor attempts per plan.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialInterval is the first retry delay.
	// Default: 100ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the retry delay.
	// Default: 5s
	MaxInterval time.Duration `yaml:"max_interval"`
}

// GateConfig contains reversibility gate configuration.
type GateConfig struct {
	// Cooldown is the minimum time an item stays key dependent before
	// its key may be destroyed.
	// Default: 24h
	Cooldown time.Duration `yaml:"cooldown"`

	// BlockingTags refuse key destruction while present on an item.
	BlockingTags []string `yaml:"blocking_tags"`

	// KeyShares is the n of the n-of-n key split in the local key vault.
	// Default: 3
	KeyShares int `yaml:"key_shares"`

	// ApprovalTTL is the lifetime of grants in the local approval service.
	// Default: 72h
	ApprovalTTL time.Duration `yaml:"approval_ttl"`

	// MasterKey is the hex-encoded 32-byte key the vault derives item keys
	// from. With neither MasterKey nor MasterKeyFile set the vault uses a
	// random key and sealed data does not survive a restart.
	MasterKey string `yaml:"master_key"`

	// MasterKeyFile reads the hex-encoded master key from a file.
	MasterKeyFile string `yaml:"master_key_file"`
}

// LearningConfig contains learning optimizer configuration.
type LearningConfig struct {
	// Enabled controls whether feedback changes the tunables.
	// Default: true
	Enabled bool `yaml:"enabled"`

	LearningRate  float64       `yaml:"learning_rate"`
	MaxStep       float64       `yaml:"max_step"`
	RiskFloor     float64       `yaml:"risk_floor"`
	TauMin        time.Duration `yaml:"tau_min"`
	TauMax        time.Duration `yaml:"tau_max"`
	TauFactor     float64       `yaml:"tau_factor"`
	ThresholdMin  float64       `yaml:"threshold_min"`
	ThresholdMax  float64       `yaml:"threshold_max"`
	ThresholdStep float64       `yaml:"threshold_step"`

	// SnapshotEvery takes a snapshot after this many applied updates.
	// Default: 100
	SnapshotEvery int `yaml:"snapshot_every"`

	// MaxSnapshots bounds retained snapshots.
	// Default: 20
	MaxSnapshots int `yaml:"max_snapshots"`
}

// LedgerConfig contains decision ledger configuration.
type LedgerConfig struct {
	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// StateConfig contains persisted core state configuration.
type StateConfig struct {
	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// CheckpointInterval is how often budgets are persisted.
	// Default: 30s
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "lethe"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service name in traces.
	// Default: "lethe"
	ServiceName string `yaml:"service_name"`
}
