package pipeline

import (
	"context"
	"strconv"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/executor"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/telemetry/logging"
)

// OnOutcome consumes executor outcomes. It is meant to be installed with
// executor.WithOutcome. The item can be routed again once it returns.
func (p *Pipeline) OnOutcome(ctx context.Context, o executor.Outcome) {
	defer p.settle(o.Item.ID, o.Plan.ID)
	ctx = logging.WithItemID(ctx, o.Item.ID)
	ctx = logging.WithPlanID(ctx, o.Plan.ID)
	if o.Err != nil {
		p.failed(ctx, o)
		return
	}
	p.succeeded(ctx, o)
}

// failed records an exhausted plan. The item falls back to defer for now
// and is reconsidered on the next sweep.
func (p *Pipeline) failed(ctx context.Context, o executor.Outcome) {
	plan := o.Plan
	if _, err := p.deps.Ledger.Log(ctx, ledger.Entry{
		Kind:   ledger.KindExecutionFailed,
		ItemID: o.Item.ID,
		Plan:   &plan,
		Reason: o.Err.Error(),
		Attributes: map[string]string{
			"attempts": strconv.Itoa(o.Attempts),
			"fallback": forgetting.StrategyDefer.String(),
		},
	}); err != nil {
		p.logger.ErrorContext(ctx, "failed to record execution failure", "error", err)
	}

	p.mu.RLock()
	r := p.requeuer
	p.mu.RUnlock()
	if r != nil {
		r.Requeue(o.Item.ID)
	}
	p.logger.WarnContext(ctx, "plan execution failed",
		"strategy", plan.Kind.String(),
		"attempts", o.Attempts,
		"error", o.Err,
	)
}

func (p *Pipeline) succeeded(ctx context.Context, o executor.Outcome) {
	plan := o.Plan
	attrs := map[string]string{
		"reclaimed_bytes": strconv.FormatInt(o.Result.Reclaimed, 10),
		"attempts":        strconv.Itoa(o.Attempts),
	}
	if o.Result.Location != "" {
		attrs["location"] = o.Result.Location
	}
	for k, v := range o.Result.Detail {
		attrs[k] = v
	}
	if _, err := p.deps.Ledger.Log(ctx, ledger.Entry{
		Kind:       ledger.KindExecution,
		ItemID:     o.Item.ID,
		Plan:       &plan,
		Attributes: attrs,
	}); err != nil {
		p.logger.ErrorContext(ctx, "failed to record execution", "error", err)
	}

	// Key destruction already went through the gate inside the handler.
	if plan.Kind != forgetting.StrategyKeyDestroy && plan.TargetStage > plan.FromStage {
		if _, err := p.deps.Gate.RequestTransition(ctx, o.Item, plan.TargetStage, ""); err != nil {
			p.logger.WarnContext(ctx, "stage transition not committed",
				"strategy", plan.Kind.String(),
				"target", plan.TargetStage.String(),
				"error", err,
			)
		}
	}

	p.release(ctx, o.Item, o.Result.Reclaimed)
}

// release returns reclaimed bytes to the item's scope budget.
func (p *Pipeline) release(ctx context.Context, item forgetting.Item, reclaimed int64) {
	if reclaimed <= 0 {
		return
	}
	scope := item.Meta.Scope
	if scope == "" {
		scope = budget.GlobalScope
	}
	if err := p.deps.Budgets.Add(scope, -reclaimed); err != nil {
		if scope == budget.GlobalScope {
			p.logger.DebugContext(ctx, "no budget scope for reclaimed bytes", "bytes", reclaimed)
			return
		}
		if gerr := p.deps.Budgets.Add(budget.GlobalScope, -reclaimed); gerr != nil {
			p.logger.DebugContext(ctx, "no budget scope for reclaimed bytes", "scope", scope, "bytes", reclaimed)
			return
		}
		scope = budget.GlobalScope
	}
	if p.metrics != nil {
		p.metrics.RecordReclaimed(scope, reclaimed)
	}
}
