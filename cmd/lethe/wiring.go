package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/eviction"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	ledgerstorage "mercator-hq/lethe/pkg/ledger/storage"
	"mercator-hq/lethe/pkg/policy"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/state"
)

// scoringConfig converts the configured axes, keyed by axis name, on top of
// the default normalization of every axis.
func scoringConfig(cfg config.ScoringConfig) (scoring.Config, error) {
	axes := scoring.DefaultAxisConfigs()
	for name, ac := range cfg.Axes {
		axis, err := forgetting.ParseAxis(name)
		if err != nil {
			return scoring.Config{}, fmt.Errorf("scoring.axes.%s: %w", name, err)
		}
		axes[axis] = scoring.AxisConfig{
			Method:    scoring.Method(ac.Method),
			Min:       ac.Min,
			Max:       ac.Max,
			DomainMin: ac.DomainMin,
			DomainMax: ac.DomainMax,
		}
	}
	return scoring.Config{Axes: axes, PredictorTimeout: cfg.PredictorTimeout}, nil
}

// constraints builds the hard constraint registry from the policy section.
func constraints(cfg config.PolicyConfig) (*policy.Constraints, error) {
	cs := make([]policy.Constraint, 0, len(cfg.Constraints))
	for _, c := range cfg.Constraints {
		cs = append(cs, policy.Constraint{
			Tag:       c.Tag,
			Kind:      policy.ConstraintKind(c.Kind),
			Retention: c.Retention,
		})
	}
	return policy.NewConstraints(cfg.HoldSuffixes, cs...)
}

// loadTable reads the configured policy table. No path selects the
// built-in table.
func loadTable(cfg config.PolicyConfig) (*policy.Table, error) {
	if cfg.TablePath == "" {
		return nil, nil
	}
	return policy.LoadTable(cfg.TablePath)
}

// registerScopes registers every configured budget scope.
func registerScopes(t *budget.Tracker, cfg config.BudgetConfig) error {
	for id, sc := range cfg.Scopes {
		limits := budget.Limits{Capacity: sc.Capacity, Low: sc.LowWatermark, High: sc.HighWatermark}
		if err := t.Register(id, limits); err != nil {
			return fmt.Errorf("budget scope %s: %w", id, err)
		}
	}
	return nil
}

// masterKey returns the configured vault master key, or nil when none is
// configured.
func masterKey(cfg config.GateConfig) ([]byte, error) {
	raw := cfg.MasterKey
	if cfg.MasterKeyFile != "" {
		b, err := os.ReadFile(cfg.MasterKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key: %w", err)
		}
		raw = string(b)
	}
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// openState opens the state backend named by cfg.Backend.
func openState(cfg config.StateConfig) (state.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return state.NewMemoryBackend(), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		b, err := state.NewSQLiteBackendWithConfig(state.SQLiteConfig{
			Path:               cfg.SQLite.Path,
			CheckpointInterval: cfg.CheckpointInterval,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// openLedgerStorage opens the ledger storage named by cfg.Backend.
func openLedgerStorage(cfg config.LedgerConfig) (ledger.Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return ledgerstorage.NewMemoryStorage(), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := ledgerstorage.NewSQLiteStorage(&ledgerstorage.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			WALMode:     cfg.SQLite.WALMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}

// openCooldowns returns the quarantine store. The redis client is nil for
// the memory store.
func openCooldowns(ctx context.Context, cfg config.EvictionConfig) (eviction.CooldownStore, *redis.Client, error) {
	switch strings.ToLower(cfg.CooldownStore) {
	case "", "memory":
		return eviction.NewMemoryCooldowns(), nil, nil
	case "redis":
		client, err := eviction.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return eviction.NewRedisCooldowns(client, cfg.Redis.KeyPrefix), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown cooldown store %q", cfg.CooldownStore)
	}
}
