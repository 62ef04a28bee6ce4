package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// Outcome is reported once per submitted plan after the last attempt.
// Err is nil on success and an *forgetting.ExecutionFailureError otherwise.
type Outcome struct {
	Item     forgetting.Item
	Plan     forgetting.StrategyPlan
	Result   Result
	Attempts int
	Duration time.Duration
	Err      error
}

// OutcomeFunc receives execution outcomes on the worker goroutine.
type OutcomeFunc func(ctx context.Context, o Outcome)

// Metrics is the subset of the metrics collector the queue records to.
type Metrics interface {
	RecordExecution(strategy, outcome string, attempts int, d time.Duration)
	SetQueueDepth(n int)
}

type job struct {
	item forgetting.Item
	plan forgetting.StrategyPlan
}

// Queue runs plans on a fixed pool of workers.
type Queue struct {
	handler Handler
	cfg     config.ExecutorConfig
	work    chan job
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	started bool
	once    sync.Once

	onOutcome  OutcomeFunc
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	metrics    Metrics
	tracer     *tracing.Tracer
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithOutcome sets the outcome callback.
func WithOutcome(f OutcomeFunc) QueueOption {
	return func(q *Queue) { q.onOutcome = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l.With("component", "executor") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) QueueOption {
	return func(q *Queue) { q.tracer = t }
}

// NewQueue creates a queue over handler. Zero config fields take defaults.
func NewQueue(handler Handler, cfg config.ExecutorConfig, opts ...QueueOption) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	q := &Queue{
		handler: handler,
		cfg:     cfg,
		work:    make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "executor"),
	}
	q.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = q.cfg.InitialInterval
		b.MaxInterval = q.cfg.MaxInterval
		return b
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. Plans run under ctx; cancelling it stops
// retries but queued plans are still drained by Close.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.logger.Info("executor started", "workers", q.cfg.Workers, "queue_size", q.cfg.QueueSize)
}

// Submit enqueues a plan without blocking. It returns ErrQueueFull when
// the queue is at capacity and ErrClosed after Close.
func (q *Queue) Submit(item forgetting.Item, plan forgetting.StrategyPlan) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return forgetting.ErrClosed
	}
	select {
	case q.work <- job{item: item, plan: plan}:
		q.depth()
		return nil
	default:
		return forgetting.ErrQueueFull
	}
}

// Len returns the number of queued plans.
func (q *Queue) Len() int {
	return len(q.work)
}

// Close stops accepting plans, waits for queued plans to finish, and stops
// the workers. It is safe to call more than once.
func (q *Queue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		started := q.started
		q.mu.Unlock()

		close(q.done)
		if !started {
			q.drain(context.Background())
		}
		q.wg.Wait()
		q.logger.Info("executor stopped")
	})
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.work:
			q.run(ctx, j)
		case <-q.done:
			q.drain(ctx)
			return
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case j := <-q.work:
			q.run(ctx, j)
		default:
			return
		}
	}
}

func (q *Queue) run(ctx context.Context, j job) {
	q.depth()
	o := q.Execute(ctx, j.item, j.plan)
	if q.onOutcome != nil {
		q.onOutcome(ctx, o)
	}
}

// Execute runs one plan synchronously with retries.
func (q *Queue) Execute(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) Outcome {
	start := time.Now()
	ctx, span := q.tracer.Start(ctx, "executor.Execute")
	defer span.End()

	attempts := 0
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempts++
		r, err := Dispatch(ctx, q.handler, item, plan)
		if err != nil && !IsPermanent(err) {
			q.logger.WarnContext(ctx, "executor attempt failed",
				"item_id", item.ID,
				"plan_id", plan.ID,
				"strategy", plan.Kind.String(),
				"attempt", attempts,
				"error", err,
			)
		}
		return r, err
	}, backoff.WithBackOff(q.newBackOff()), backoff.WithMaxTries(uint(q.cfg.MaxAttempts)))

	o := Outcome{Item: item, Plan: plan, Result: res, Attempts: attempts, Duration: time.Since(start)}
	status := "ok"
	if err != nil {
		status = "failed"
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		o.Err = forgetting.NewExecutionFailureError(plan, attempts, err)
		q.logger.ErrorContext(ctx, "plan execution failed",
			"item_id", item.ID,
			"plan_id", plan.ID,
			"strategy", plan.Kind.String(),
			"attempts", attempts,
			"error", err,
		)
	}
	tracing.SetExecutionAttributes(span, item.ID, plan.Kind.String(), attempts)
	tracing.SetStatus(span, o.Err)
	if q.metrics != nil {
		q.metrics.RecordExecution(plan.Kind.String(), status, attempts, o.Duration)
	}
	return o
}

func (q *Queue) depth() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.work))
	}
}
