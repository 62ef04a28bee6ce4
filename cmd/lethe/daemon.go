package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/catalog"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/eviction"
	"mercator-hq/lethe/pkg/executor"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate"
	"mercator-hq/lethe/pkg/gate/keyvault"
	"mercator-hq/lethe/pkg/learning"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/pipeline"
	"mercator-hq/lethe/pkg/policy"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/server"
	"mercator-hq/lethe/pkg/state"
	"mercator-hq/lethe/pkg/telemetry/health"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/metrics"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// daemon holds every wired component of a running core.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	state     state.Backend
	ledger    *ledger.Ledger
	vault     *keyvault.Vault
	approvals *gate.MemoryApprovals
	gate      *gate.Gate
	learner   *learning.Optimizer
	scorer    *scoring.Engine
	policy    *policy.Engine
	watcher   *policy.Watcher
	budgets   *budget.Tracker
	catalog   *catalog.Memory
	pipeline  *pipeline.Pipeline
	queue     *executor.Queue
	scheduler *eviction.Scheduler
	redis     *redis.Client
	health    *health.Checker
	server    *server.Server

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// buildDaemon wires the core from cfg. Logs go to w. On error every
// component opened so far is closed.
func buildDaemon(ctx context.Context, cfg *config.Config, w io.Writer) (*daemon, error) {
	dm := &daemon{cfg: cfg}
	if err := dm.build(ctx, w); err != nil {
		_ = dm.closeStores()
		return nil, err
	}
	return dm, nil
}

func (dm *daemon) build(ctx context.Context, w io.Writer) error {
	cfg := dm.cfg
	var err error
	if dm.logger, err = logging.New(cfg.Telemetry.Logging, w); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	dm.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	if dm.tracer, err = tracing.New(ctx, &cfg.Telemetry.Tracing); err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	if dm.state, err = openState(cfg.State); err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	storage, err := openLedgerStorage(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger storage: %w", err)
	}
	dm.ledger, err = ledger.Open(ctx, storage,
		ledger.WithLogger(dm.logger),
		ledger.WithMetrics(dm.metrics),
	)
	if err != nil {
		_ = storage.Close()
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	master, err := masterKey(cfg.Gate)
	if err != nil {
		return err
	}
	if master != nil {
		dm.vault, err = keyvault.New(master, cfg.Gate.KeyShares, keyvault.WithStore(dm.state))
	} else {
		dm.logger.Warn("no master key configured, sealed data will not survive a restart")
		dm.vault, err = keyvault.NewRandom(cfg.Gate.KeyShares)
	}
	if err != nil {
		return fmt.Errorf("failed to create key vault: %w", err)
	}
	dm.approvals = gate.NewMemoryApprovals(cfg.Gate.ApprovalTTL)
	dm.gate = gate.New(dm.state, dm.ledger, dm.vault, dm.approvals,
		gate.WithCooldown(cfg.Gate.Cooldown),
		gate.WithBlockingTags(cfg.Gate.BlockingTags...),
		gate.WithLogger(dm.logger),
		gate.WithMetrics(dm.metrics),
		gate.WithTracer(dm.tracer),
	)
	n, err := dm.gate.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile interrupted shreds: %w", err)
	}
	if n > 0 {
		dm.logger.Info("completed interrupted shreds", "items", n)
	}

	dm.learner, err = learning.New(ctx, dm.state, dm.ledger, cfg.Learning,
		learning.WithLogger(dm.logger),
		learning.WithMetrics(dm.metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create optimizer: %w", err)
	}

	sc, err := scoringConfig(cfg.Scoring)
	if err != nil {
		return err
	}
	dm.scorer, err = scoring.NewEngine(sc, dm.learner,
		scoring.WithCompositor(scoring.NewLinear(dm.learner)),
		scoring.WithLogger(dm.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create scoring engine: %w", err)
	}

	table, err := loadTable(cfg.Policy)
	if err != nil {
		return fmt.Errorf("failed to load policy table: %w", err)
	}
	cons, err := constraints(cfg.Policy)
	if err != nil {
		return fmt.Errorf("invalid constraints: %w", err)
	}
	dm.policy, err = policy.NewEngine(table, dm.scorer.Compositor(),
		policy.WithTunables(dm.learner),
		policy.WithConstraints(cons),
		policy.WithApprovals(dm.gate),
		policy.WithLogger(dm.logger),
		policy.WithMetrics(dm.metrics),
		policy.WithTracer(dm.tracer),
	)
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}

	dm.budgets = budget.NewTracker(
		budget.WithIngestWindow(cfg.Budget.IngestWindow, ingestGranularity(cfg.Budget.IngestWindow)),
		budget.WithLogger(dm.logger),
	)
	if err = registerScopes(dm.budgets, cfg.Budget); err != nil {
		return err
	}
	if err = dm.budgets.Restore(ctx, dm.state); err != nil {
		return err
	}

	dm.catalog = catalog.NewMemory(dm.gate,
		catalog.WithBudgets(dm.budgets),
		catalog.WithLogger(dm.logger),
	)

	dm.pipeline, err = pipeline.New(pipeline.Deps{
		Scorer:   dm.scorer,
		Selector: dm.policy,
		Budgets:  dm.budgets,
		Gate:     dm.gate,
		Ledger:   dm.ledger,
		Learner:  dm.learner,
	},
		pipeline.WithLogger(dm.logger),
		pipeline.WithMetrics(dm.metrics),
		pipeline.WithTracer(dm.tracer),
	)
	if err != nil {
		return err
	}
	dm.queue = executor.NewQueue(pipeline.GateHandler(keyvault.Sealing(executor.DryRun{}, dm.vault), dm.gate), cfg.Executor,
		executor.WithOutcome(dm.pipeline.OnOutcome),
		executor.WithLogger(dm.logger),
		executor.WithMetrics(dm.metrics),
		executor.WithTracer(dm.tracer),
	)
	dm.pipeline.SetQueue(dm.queue)

	cooldowns, client, err := openCooldowns(ctx, cfg.Eviction)
	if err != nil {
		return err
	}
	dm.redis = client
	dm.scheduler = eviction.NewScheduler(dm.catalog, dm.scorer, dm.pipeline, dm.budgets, cfg.Eviction,
		eviction.WithCooldownStore(cooldowns),
		eviction.WithLogger(dm.logger),
		eviction.WithMetrics(dm.metrics),
		eviction.WithTracer(dm.tracer),
	)
	dm.pipeline.SetRequeuer(dm.scheduler)

	dm.health = health.New(2 * time.Second)
	dm.health.RegisterCheck("ledger", true, func(ctx context.Context) error {
		_, err := dm.ledger.Query(ctx, &ledger.Query{Limit: 1})
		return err
	})
	dm.health.RegisterCheck("state", true, func(ctx context.Context) error {
		_, err := dm.state.LoadTunables(ctx)
		if errors.Is(err, forgetting.ErrNotFound) {
			return nil
		}
		return err
	})
	if dm.redis != nil {
		dm.health.RegisterCheck("redis", false, func(ctx context.Context) error {
			return dm.redis.Ping(ctx).Err()
		})
	}

	deps := server.Deps{
		Health:    dm.health,
		Gate:      dm.gate,
		Approvals: dm.approvals,
		Ledger:    dm.ledger,
		Budgets:   dm.budgets,
		Catalog:   dm.catalog,
		Decider:   dm.pipeline,
		Feedback:  dm.pipeline,
		Learner:   dm.learner,
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}
	if cfg.Telemetry.Metrics.Enabled {
		deps.Metrics = dm.metrics.Handler()
	}
	dm.server = server.New(cfg.Server, deps, server.WithLogger(dm.logger))
	return nil
}

// ingestGranularity splits the ingestion window into twelve buckets, at
// least one second each.
func ingestGranularity(window time.Duration) time.Duration {
	return max(window/12, time.Second)
}

// start launches the executor workers, the sweep schedule, the table
// watcher, the budget checkpoints, and the admin server.
func (dm *daemon) start(ctx context.Context) error {
	ctx, dm.cancel = context.WithCancel(ctx)

	if dm.cfg.Policy.Watch && dm.cfg.Policy.TablePath != "" {
		w, err := policy.NewWatcher(dm.cfg.Policy.TablePath, dm.policy, dm.cfg.Policy.WatchDebounce, dm.logger)
		if err != nil {
			dm.cancel()
			return fmt.Errorf("failed to watch policy table: %w", err)
		}
		dm.watcher = w
	}

	dm.queue.Start(ctx)
	if err := dm.scheduler.Start(ctx); err != nil {
		dm.cancel()
		return err
	}

	if dm.watcher != nil {
		dm.wg.Add(1)
		go func() {
			defer dm.wg.Done()
			if err := dm.watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				dm.logger.Error("policy table watcher stopped", "error", err)
			}
		}()
	}

	dm.wg.Add(1)
	go func() {
		defer dm.wg.Done()
		dm.checkpointBudgets(ctx)
	}()

	if dm.cfg.Server.Enabled {
		dm.wg.Add(1)
		go func() {
			defer dm.wg.Done()
			if err := dm.server.Start(ctx); err != nil {
				dm.logger.Error("admin server stopped", "error", err)
			}
		}()
	}
	return nil
}

func (dm *daemon) checkpointBudgets(ctx context.Context) {
	if dm.cfg.State.CheckpointInterval <= 0 {
		return
	}
	ticker := time.NewTicker(dm.cfg.State.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dm.budgets.Save(ctx, dm.state); err != nil {
				dm.logger.Warn("budget checkpoint failed", "error", err)
			}
		}
	}
}

// close stops the core in dependency order: no new sweeps, drain the
// queue, persist budgets, then release the stores.
func (dm *daemon) close(ctx context.Context) error {
	var errs []error
	dm.scheduler.Stop()
	if err := dm.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("executor: %w", err))
	}
	if dm.server.Running() {
		if err := dm.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	if dm.cancel != nil {
		dm.cancel()
	}
	dm.wg.Wait()

	if err := dm.budgets.Save(ctx, dm.state); err != nil {
		errs = append(errs, fmt.Errorf("budgets: %w", err))
	}
	if err := dm.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	errs = append(errs, dm.closeStores())
	return errors.Join(errs...)
}

func (dm *daemon) closeStores() error {
	var errs []error
	if dm.redis != nil {
		errs = append(errs, dm.redis.Close())
	}
	if dm.ledger != nil {
		errs = append(errs, dm.ledger.Close())
	}
	if dm.state != nil {
		errs = append(errs, dm.state.Close())
	}
	return errors.Join(errs...)
}
