package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lethe/pkg/config"
)

// Collector owns every Prometheus metric of the forgetting core.
//
// All Record methods are safe on a nil *Collector and on a collector whose
// config is disabled, so components can hold an optional collector without
// guarding each call.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisions  *DecisionMetrics
	gate       *GateMetrics
	budget     *BudgetMetrics
	execution  *ExecutionMetrics
	learning   *LearningMetrics
	ledgerOpen *prometheus.CounterVec
}

// NewCollector creates a collector and registers its metrics on registry.
// A nil registry gets a fresh one.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "lethe"
	}

	c := &Collector{
		config:    cfg,
		registry:  registry,
		decisions: NewDecisionMetrics(cfg, registry),
		gate:      NewGateMetrics(cfg, registry),
		budget:    NewBudgetMetrics(cfg, registry),
		execution: NewExecutionMetrics(cfg, registry),
		learning:  NewLearningMetrics(cfg, registry),
		ledgerOpen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_appends_total",
				Help:      "Ledger appends by entry kind and status",
			},
			[]string{"kind", "status"},
		),
	}
	registry.MustRegister(c.ledgerOpen)
	return c
}

// Registry returns the registry the collector registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordDecision records a policy selection.
func (c *Collector) RecordDecision(strategy, budgetTier string, downgraded, violation bool, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.decisions.record(strategy, budgetTier, downgraded, violation, d)
}

// RecordDegradedAxis records a score axis that fell back to neutral.
func (c *Collector) RecordDegradedAxis(axis string) {
	if !c.enabled() {
		return
	}
	c.decisions.degradedAxes.WithLabelValues(axis).Inc()
}

// RecordTransition records a committed stage transition.
func (c *Collector) RecordTransition(from, to string) {
	if !c.enabled() {
		return
	}
	c.gate.transitions.WithLabelValues(from, to).Inc()
}

// RecordDenial records a refused transition.
func (c *Collector) RecordDenial(reason string) {
	if !c.enabled() {
		return
	}
	c.gate.denials.WithLabelValues(reason).Inc()
}

// RecordShred records a crypto-shred sequence outcome and duration.
func (c *Collector) RecordShred(outcome string, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.gate.shredDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordBudget records a scope's volume and tier.
func (c *Collector) RecordBudget(scope string, volume int64, tier string) {
	if !c.enabled() {
		return
	}
	c.budget.volume.WithLabelValues(scope).Set(float64(volume))
	c.budget.setTier(scope, tier)
}

// RecordSweep records one eviction sweep.
func (c *Collector) RecordSweep(scope, outcome string, scheduled int, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.budget.sweeps.WithLabelValues(scope, outcome).Inc()
	c.budget.sweepItems.WithLabelValues(scope).Add(float64(scheduled))
	c.budget.sweepDuration.WithLabelValues(scope).Observe(d.Seconds())
}

// RecordReclaimed records bytes freed in a scope.
func (c *Collector) RecordReclaimed(scope string, bytes int64) {
	if !c.enabled() || bytes <= 0 {
		return
	}
	c.budget.reclaimed.WithLabelValues(scope).Add(float64(bytes))
}

// RecordExecution records an executor outcome after retries.
func (c *Collector) RecordExecution(strategy, outcome string, attempts int, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.execution.executions.WithLabelValues(strategy, outcome).Inc()
	if attempts > 1 {
		c.execution.retries.WithLabelValues(strategy).Add(float64(attempts - 1))
	}
	c.execution.duration.WithLabelValues(strategy).Observe(d.Seconds())
}

// SetQueueDepth records the work queue length.
func (c *Collector) SetQueueDepth(n int) {
	if !c.enabled() {
		return
	}
	c.execution.queueDepth.Set(float64(n))
}

// RecordLearningUpdate records an applied feedback event and the resulting
// weights.
func (c *Collector) RecordLearningUpdate(outcome string, weights map[string]float64) {
	if !c.enabled() {
		return
	}
	c.learning.updates.WithLabelValues(outcome).Inc()
	for axis, w := range weights {
		c.learning.weights.WithLabelValues(axis).Set(w)
	}
}

// RecordLearningRollback records a snapshot restore.
func (c *Collector) RecordLearningRollback() {
	if !c.enabled() {
		return
	}
	c.learning.rollbacks.Inc()
}

// RecordLedgerAppend records a ledger write.
func (c *Collector) RecordLedgerAppend(kind string, err error) {
	if !c.enabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ledgerOpen.WithLabelValues(kind, status).Inc()
}
