package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lethe/pkg/config"
)

// DecisionMetrics tracks policy selection.
//
// Metrics:
//   - lethe_decisions_total: selections by strategy and budget tier
//   - lethe_decision_downgrades_total: stage-9 plans downgraded for lack of approval
//   - lethe_constraint_violations_total: items where only defer was compliant
//   - lethe_decision_duration_seconds: scoring plus selection latency
//   - lethe_degraded_axes_total: axes that fell back to the neutral score
type DecisionMetrics struct {
	decisions    *prometheus.CounterVec
	downgrades   prometheus.Counter
	violations   prometheus.Counter
	duration     prometheus.Histogram
	degradedAxes *prometheus.CounterVec
}

// NewDecisionMetrics creates and registers decision metrics.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	m := &DecisionMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "decisions_total",
			Help: "Policy decisions by selected strategy and budget tier",
		}, []string{"strategy", "budget_tier"}),
		downgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "decision_downgrades_total",
			Help: "Irreversible plans downgraded because no approval was granted",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "constraint_violations_total",
			Help: "Decisions where hard constraints left only defer",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name:    "decision_duration_seconds",
			Help:    "Duration of policy selection in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15),
		}),
		degradedAxes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "degraded_axes_total",
			Help: "Score axes that fell back to the neutral value",
		}, []string{"axis"}),
	}
	registry.MustRegister(m.decisions, m.downgrades, m.violations, m.duration, m.degradedAxes)
	return m
}

func (m *DecisionMetrics) record(strategy, tier string, downgraded, violation bool, d time.Duration) {
	m.decisions.WithLabelValues(strategy, tier).Inc()
	if downgraded {
		m.downgrades.Inc()
	}
	if violation {
		m.violations.Inc()
	}
	m.duration.Observe(d.Seconds())
}

// GateMetrics tracks the reversibility gate.
type GateMetrics struct {
	transitions   *prometheus.CounterVec
	denials       *prometheus.CounterVec
	shredDuration *prometheus.HistogramVec
}

// NewGateMetrics creates and registers gate metrics.
func NewGateMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GateMetrics {
	m := &GateMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "transitions_total",
			Help: "Committed stage transitions",
		}, []string{"from", "to"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "gate_denials_total",
			Help: "Transitions refused by the reversibility gate",
		}, []string{"reason"}),
		shredDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name:    "shred_duration_seconds",
			Help:    "Duration of crypto-shred sequences",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	registry.MustRegister(m.transitions, m.denials, m.shredDuration)
	return m
}

// BudgetMetrics tracks budget scopes and eviction sweeps.
type BudgetMetrics struct {
	volume        *prometheus.GaugeVec
	tier          *prometheus.GaugeVec
	sweeps        *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	reclaimed     *prometheus.CounterVec
}

var tierNames = []string{"normal", "elevated", "critical"}

// NewBudgetMetrics creates and registers budget metrics.
func NewBudgetMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BudgetMetrics {
	m := &BudgetMetrics{
		volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "budget_volume_bytes",
			Help: "Current stored volume per budget scope",
		}, []string{"scope"}),
		tier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "budget_tier",
			Help: "1 for the scope's current budget tier, 0 otherwise",
		}, []string{"scope", "tier"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "sweeps_total",
			Help: "Eviction sweeps by scope and outcome",
		}, []string{"scope", "outcome"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "sweep_scheduled_items_total",
			Help: "Items scheduled for a strategy by eviction sweeps",
		}, []string{"scope"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name:    "sweep_duration_seconds",
			Help:    "Duration of eviction sweeps",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "reclaimed_bytes_total",
			Help: "Bytes reclaimed by executed strategies",
		}, []string{"scope"}),
	}
	registry.MustRegister(m.volume, m.tier, m.sweeps, m.sweepItems, m.sweepDuration, m.reclaimed)
	return m
}

func (m *BudgetMetrics) setTier(scope, tier string) {
	for _, name := range tierNames {
		v := 0.0
		if name == tier {
			v = 1
		}
		m.tier.WithLabelValues(scope, name).Set(v)
	}
}

// ExecutionMetrics tracks the work queue and executor outcomes.
type ExecutionMetrics struct {
	executions *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewExecutionMetrics creates and registers execution metrics.
func NewExecutionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ExecutionMetrics {
	m := &ExecutionMetrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "executions_total",
			Help: "Strategy executions by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "execution_retries_total",
			Help: "Retried executor attempts",
		}, []string{"strategy"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name:    "execution_duration_seconds",
			Help:    "Executor wall time including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "work_queue_depth",
			Help: "Plans waiting in the work queue",
		}),
	}
	registry.MustRegister(m.executions, m.retries, m.duration, m.queueDepth)
	return m
}

// LearningMetrics tracks the learning optimizer.
type LearningMetrics struct {
	updates   *prometheus.CounterVec
	weights   *prometheus.GaugeVec
	rollbacks prometheus.Counter
}

// NewLearningMetrics creates and registers learning metrics.
func NewLearningMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LearningMetrics {
	m := &LearningMetrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "learning_updates_total",
			Help: "Feedback events applied by outcome",
		}, []string{"outcome"}),
		weights: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "composite_weight",
			Help: "Current composite weight per score axis",
		}, []string{"axis"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "learning_rollbacks_total",
			Help: "Snapshot restores of the learned tunables",
		}),
	}
	registry.MustRegister(m.updates, m.weights, m.rollbacks)
	return m
}

// StageLabel formats a stage number for label values.
func StageLabel(stage int) string {
	return strconv.Itoa(stage)
}
