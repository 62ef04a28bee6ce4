package pipeline

import (
	"context"

	"mercator-hq/lethe/pkg/executor"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate"
)

// Transitioner moves items between stages.
type Transitioner interface {
	RequestTransition(ctx context.Context, item forgetting.Item, target forgetting.Stage, token string) (gate.TransitionResult, error)
	Stage(ctx context.Context, itemID string) (forgetting.Stage, error)
}

// gatedHandler routes key destruction through the gate before the wrapped
// handler sees it. Every other strategy passes through.
type gatedHandler struct {
	executor.Handler
	gate Transitioner
}

// GateHandler wraps next so that KeyDestroy only runs after the gate has
// committed stage 9. Gate denials are permanent; unavailable dependencies
// are retried. Retrying a completed shred is safe because the gate replays
// the stored result.
func GateHandler(next executor.Handler, g Transitioner) executor.Handler {
	return &gatedHandler{Handler: next, gate: g}
}

func (h *gatedHandler) KeyDestroy(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (executor.Result, error) {
	res, err := h.gate.RequestTransition(ctx, item, forgetting.StageKeyDestroyed, plan.ApprovalRef)
	if err != nil {
		if _, denied := forgetting.IsGateDenied(err); denied {
			return executor.Result{}, executor.Permanent(err)
		}
		return executor.Result{}, err
	}
	out, err := h.Handler.KeyDestroy(ctx, item, plan)
	if err != nil {
		return out, err
	}
	if out.Detail == nil {
		out.Detail = make(map[string]string, 2)
	}
	out.Detail["transition_id"] = res.ResultID
	if res.Replayed {
		out.Detail["replayed"] = "true"
	}
	return out, nil
}
