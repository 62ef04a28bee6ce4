package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultServerEnabled   = true
	DefaultListenAddress   = "127.0.0.1:9400"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// Scoring defaults
	DefaultPredictorTimeout = 200 * time.Millisecond

	// Policy defaults
	DefaultPolicyWatch         = false
	DefaultPolicyWatchDebounce = 100 * time.Millisecond
	DefaultHoldSuffix          = "-hold"

	// Budget defaults
	DefaultGlobalScope       = "global"
	DefaultBudgetCapacity    = int64(100 << 30) // 100 GiB
	DefaultBudgetLowPercent  = 70
	DefaultBudgetHighPercent = 90
	DefaultIngestWindow      = 5 * time.Minute

	// Eviction defaults
	DefaultEvictionSchedule = "@every 1m"
	DefaultRiskFactor       = 0.5
	DefaultRedundancyFactor = 0.5
	DefaultEvictionCooldown = time.Hour
	DefaultMaxCandidates    = 10000
	DefaultCooldownStore    = "memory"
	DefaultRedisAddr        = "127.0.0.1:6379"
	DefaultRedisKeyPrefix   = "lethe:cooldown:"

	// Executor defaults
	DefaultExecutorWorkers     = 4
	DefaultExecutorQueueSize   = 1024
	DefaultExecutorMaxAttempts = 3
	DefaultInitialInterval     = 100 * time.Millisecond
	DefaultMaxInterval         = 5 * time.Second

	// Gate defaults
	DefaultGateCooldown = 24 * time.Hour
	DefaultKeyShares    = 3
	DefaultApprovalTTL  = 72 * time.Hour

	// Learning defaults
	DefaultLearningEnabled = true
	DefaultLearningRate    = 0.05
	DefaultMaxStep         = 0.02
	DefaultRiskFloor       = 0.05
	DefaultTauMin          = time.Hour
	DefaultTauMax          = 365 * 24 * time.Hour
	DefaultTauFactor       = 1.1
	DefaultThresholdMin    = 0.05
	DefaultThresholdMax    = 0.6
	DefaultThresholdStep   = 0.01
	DefaultSnapshotEvery   = 100
	DefaultMaxSnapshots    = 20

	// Storage defaults
	DefaultLedgerBackend      = "sqlite"
	DefaultLedgerSQLitePath   = "data/ledger.db"
	DefaultStateBackend       = "sqlite"
	DefaultStateSQLitePath    = "data/state.db"
	DefaultSQLiteWALMode      = true
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultCheckpointInterval = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "lethe"
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingInsecure    = true
	DefaultTracingTimeout     = 10 * time.Second
	DefaultServiceName        = "lethe"
)

// Default returns a configuration with all defaults applied. Boolean
// fields that default to true are set here, so a YAML file unmarshalled
// over the result can still turn them off explicitly.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{Enabled: DefaultServerEnabled},
		Learning: LearningConfig{Enabled: DefaultLearningEnabled},
		Ledger:   LedgerConfig{SQLite: SQLiteConfig{WALMode: DefaultSQLiteWALMode}},
		State:    StateConfig{SQLite: SQLiteConfig{WALMode: DefaultSQLiteWALMode}},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{Insecure: DefaultTracingInsecure},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Scoring defaults
	if cfg.Scoring.PredictorTimeout == 0 {
		cfg.Scoring.PredictorTimeout = DefaultPredictorTimeout
	}

	// Policy defaults
	if cfg.Policy.WatchDebounce == 0 {
		cfg.Policy.WatchDebounce = DefaultPolicyWatchDebounce
	}
	if len(cfg.Policy.HoldSuffixes) == 0 {
		cfg.Policy.HoldSuffixes = []string{DefaultHoldSuffix}
	}

	applyBudgetDefaults(&cfg.Budget)

	// Eviction defaults
	if cfg.Eviction.Schedule == "" {
		cfg.Eviction.Schedule = DefaultEvictionSchedule
	}
	if cfg.Eviction.RiskFactor == 0 {
		cfg.Eviction.RiskFactor = DefaultRiskFactor
	}
	if cfg.Eviction.RedundancyFactor == 0 {
		cfg.Eviction.RedundancyFactor = DefaultRedundancyFactor
	}
	if cfg.Eviction.Cooldown == 0 {
		cfg.Eviction.Cooldown = DefaultEvictionCooldown
	}
	if cfg.Eviction.MaxCandidates == 0 {
		cfg.Eviction.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Eviction.CooldownStore == "" {
		cfg.Eviction.CooldownStore = DefaultCooldownStore
	}
	if cfg.Eviction.Redis.Addr == "" {
		cfg.Eviction.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Eviction.Redis.KeyPrefix == "" {
		cfg.Eviction.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Executor defaults
	if cfg.Executor.Workers == 0 {
		cfg.Executor.Workers = DefaultExecutorWorkers
	}
	if cfg.Executor.QueueSize == 0 {
		cfg.Executor.QueueSize = DefaultExecutorQueueSize
	}
	if cfg.Executor.MaxAttempts == 0 {
		cfg.Executor.MaxAttempts = DefaultExecutorMaxAttempts
	}
	if cfg.Executor.InitialInterval == 0 {
		cfg.Executor.InitialInterval = DefaultInitialInterval
	}
	if cfg.Executor.MaxInterval == 0 {
		cfg.Executor.MaxInterval = DefaultMaxInterval
	}

	// Gate defaults
	if cfg.Gate.Cooldown == 0 {
		cfg.Gate.Cooldown = DefaultGateCooldown
	}
	if cfg.Gate.KeyShares == 0 {
		cfg.Gate.KeyShares = DefaultKeyShares
	}
	if cfg.Gate.ApprovalTTL == 0 {
		cfg.Gate.ApprovalTTL = DefaultApprovalTTL
	}

	applyLearningDefaults(&cfg.Learning)

	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.SQLite.Path == "" {
		cfg.Ledger.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.Ledger.SQLite.BusyTimeout == 0 {
		cfg.Ledger.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// State defaults
	if cfg.State.Backend == "" {
		cfg.State.Backend = DefaultStateBackend
	}
	if cfg.State.SQLite.Path == "" {
		cfg.State.SQLite.Path = DefaultStateSQLitePath
	}
	if cfg.State.SQLite.BusyTimeout == 0 {
		cfg.State.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.State.CheckpointInterval == 0 {
		cfg.State.CheckpointInterval = DefaultCheckpointInterval
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultServiceName
	}
}

// applyBudgetDefaults ensures the global scope exists and derives missing
// watermarks from the capacity.
func applyBudgetDefaults(cfg *BudgetConfig) {
	if cfg.IngestWindow == 0 {
		cfg.IngestWindow = DefaultIngestWindow
	}
	if cfg.Scopes == nil {
		cfg.Scopes = make(map[string]BudgetScopeConfig)
	}
	if _, ok := cfg.Scopes[DefaultGlobalScope]; !ok {
		cfg.Scopes[DefaultGlobalScope] = BudgetScopeConfig{Capacity: DefaultBudgetCapacity}
	}
	for name, scope := range cfg.Scopes {
		if scope.HighWatermark == 0 {
			scope.HighWatermark = scope.Capacity * DefaultBudgetHighPercent / 100
		}
		if scope.LowWatermark == 0 {
			scope.LowWatermark = scope.Capacity * DefaultBudgetLowPercent / 100
		}
		cfg.Scopes[name] = scope
	}
}

func applyLearningDefaults(cfg *LearningConfig) {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.MaxStep == 0 {
		cfg.MaxStep = DefaultMaxStep
	}
	if cfg.RiskFloor == 0 {
		cfg.RiskFloor = DefaultRiskFloor
	}
	if cfg.TauMin == 0 {
		cfg.TauMin = DefaultTauMin
	}
	if cfg.TauMax == 0 {
		cfg.TauMax = DefaultTauMax
	}
	if cfg.TauFactor == 0 {
		cfg.TauFactor = DefaultTauFactor
	}
	if cfg.ThresholdMin == 0 {
		cfg.ThresholdMin = DefaultThresholdMin
	}
	if cfg.ThresholdMax == 0 {
		cfg.ThresholdMax = DefaultThresholdMax
	}
	if cfg.ThresholdStep == 0 {
		cfg.ThresholdStep = DefaultThresholdStep
	}
	if cfg.SnapshotEvery == 0 {
		cfg.SnapshotEvery = DefaultSnapshotEvery
	}
	if cfg.MaxSnapshots == 0 {
		cfg.MaxSnapshots = DefaultMaxSnapshots
	}
}
