package keyvault_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"mercator-hq/lethe/pkg/executor"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate/keyvault"
	"mercator-hq/lethe/pkg/state"
)

var master = bytes.Repeat([]byte{0x5a}, keyvault.MasterKeySize)

// ============================================================================
// Persistence
// ============================================================================

// TestVaultRestart tests that a vault reopened over the same store and
// master key rebuilds live keys and keeps destroyed keys gone.
func TestVaultRestart(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryBackend()

	v, err := keyvault.New(master, 2, keyvault.WithStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	live, err := v.Seal(ctx, "live", []byte("kept"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	gone, err := v.Seal(ctx, "gone", []byte("shredded"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	for _, step := range []func(context.Context, string) error{v.PreVerify, v.DistributeKey, v.ConfirmEncrypted, v.DestroyKey, v.VerifyDestroyed} {
		if err := step(ctx, "gone"); err != nil {
			t.Fatalf("shred step: %v", err)
		}
	}

	reopened, err := keyvault.New(master, 2, keyvault.WithStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := reopened.Open(ctx, "live", live)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != "kept" {
		t.Errorf("Expected kept, got %q", got)
	}
	if err := reopened.ConfirmEncrypted(ctx, "live"); err != nil {
		t.Errorf("Expected seal count to survive, got %v", err)
	}
	if _, err := reopened.Open(ctx, "gone", gone); !errors.Is(err, keyvault.ErrKeyDestroyed) {
		t.Errorf("Expected ErrKeyDestroyed, got %v", err)
	}
	destroyed, err := reopened.Destroyed(ctx, "gone")
	if err != nil || !destroyed {
		t.Errorf("Expected destroyed after restart, got %v, %v", destroyed, err)
	}
	if destroyed, _ := reopened.Destroyed(ctx, "unknown"); destroyed {
		t.Error("Expected unknown item not destroyed")
	}
}

// ============================================================================
// Sealing handler
// ============================================================================

// TestSealingHandler tests that encrypting strategies leave a sealed record.
func TestSealingHandler(t *testing.T) {
	tests := []struct {
		kind   forgetting.StrategyKind
		sealed bool
	}{
		{forgetting.StrategyArchive, true},
		{forgetting.StrategyDelete, true},
		{forgetting.StrategyCompress, false},
		{forgetting.StrategyMask, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			ctx := context.Background()
			v, err := keyvault.NewRandom(2)
			if err != nil {
				t.Fatalf("NewRandom: %v", err)
			}
			h := keyvault.Sealing(executor.DryRun{}, v)
			item := forgetting.Item{ID: "a", Location: "s3://bucket/a", Meta: forgetting.Meta{SizeBytes: 100}}

			res, err := executor.Dispatch(ctx, h, item, forgetting.StrategyPlan{ID: "p", Kind: tt.kind})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			_, hasDetail := res.Detail["sealed_bytes"]
			if hasDetail != tt.sealed {
				t.Errorf("Expected sealed_bytes detail %v, got %v", tt.sealed, res.Detail)
			}
			err = v.ConfirmEncrypted(ctx, "a")
			if tt.sealed && err != nil {
				t.Errorf("Expected item encrypted, got %v", err)
			}
			if !tt.sealed && err == nil {
				t.Error("Expected item not encrypted")
			}
		})
	}
}
