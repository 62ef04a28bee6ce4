package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/lethe/pkg/forgetting"
)

// Result is what an executor reports after applying a plan.
type Result struct {
	PlanID      string                  `json:"plan_id"`
	ItemID      string                  `json:"item_id"`
	Kind        forgetting.StrategyKind `json:"kind"`
	Reclaimed   int64                   `json:"reclaimed_bytes"`
	Location    string                  `json:"location,omitempty"`
	Detail      map[string]string       `json:"detail,omitempty"`
	CompletedAt time.Time               `json:"completed_at"`
}

// Handler applies strategy plans to stored data. Implementations should be
// idempotent per plan ID since failed attempts are retried.
type Handler interface {
	Defer(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	CacheRetain(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	Compress(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	SemanticPreserve(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	Mask(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	Archive(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	Delete(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
	KeyDestroy(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error)
}

// Dispatch routes plan to the handler method for its kind.
func Dispatch(ctx context.Context, h Handler, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	switch plan.Kind {
	case forgetting.StrategyDefer:
		return h.Defer(ctx, item, plan)
	case forgetting.StrategyCacheRetain:
		return h.CacheRetain(ctx, item, plan)
	case forgetting.StrategyCompress:
		return h.Compress(ctx, item, plan)
	case forgetting.StrategySemanticPreserve:
		return h.SemanticPreserve(ctx, item, plan)
	case forgetting.StrategyMask:
		return h.Mask(ctx, item, plan)
	case forgetting.StrategyArchive:
		return h.Archive(ctx, item, plan)
	case forgetting.StrategyDelete:
		return h.Delete(ctx, item, plan)
	case forgetting.StrategyKeyDestroy:
		return h.KeyDestroy(ctx, item, plan)
	}
	return Result{}, Permanent(fmt.Errorf("%w: %d", forgetting.ErrUnknownStrategy, plan.Kind))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// DryRun is a Handler that changes nothing and reports the estimated
// reclaim of each plan. It is the daemon's default when no executor is
// attached.
type DryRun struct {
	Now func() time.Time
}

func (d DryRun) result(item forgetting.Item, plan forgetting.StrategyPlan) Result {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return Result{
		PlanID:      plan.ID,
		ItemID:      item.ID,
		Kind:        plan.Kind,
		Reclaimed:   plan.EstimatedReclaim(item.Meta.SizeBytes),
		Location:    item.Location,
		Detail:      map[string]string{"mode": "dry_run"},
		CompletedAt: now(),
	}
}

// Defer implements Handler.
func (d DryRun) Defer(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// CacheRetain implements Handler.
func (d DryRun) CacheRetain(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// Compress implements Handler.
func (d DryRun) Compress(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// SemanticPreserve implements Handler.
func (d DryRun) SemanticPreserve(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// Mask implements Handler.
func (d DryRun) Mask(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// Archive implements Handler.
func (d DryRun) Archive(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// Delete implements Handler.
func (d DryRun) Delete(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}

// KeyDestroy implements Handler.
func (d DryRun) KeyDestroy(_ context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (Result, error) {
	return d.result(item, plan), nil
}
