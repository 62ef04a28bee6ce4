package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/ledger/storage"
)

func openMemory(t *testing.T) (*ledger.Ledger, *storage.MemoryStorage) {
	t.Helper()
	st := storage.NewMemoryStorage()
	l, err := ledger.Open(context.Background(), st)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, st
}

func openSQLite(t *testing.T, path string) *ledger.Ledger {
	t.Helper()
	st, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{Path: path, WALMode: true})
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	l, err := ledger.Open(context.Background(), st)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func decision(itemID string) ledger.Entry {
	j := 0.42
	v := forgetting.Uniform(0.42)
	return ledger.Entry{
		Kind:      ledger.KindDecision,
		ItemID:    itemID,
		Scores:    &v,
		Composite: &j,
		Plan:      &forgetting.StrategyPlan{ID: "plan-" + itemID, ItemID: itemID, Kind: forgetting.StrategyCompress},
	}
}

// ============================================================================
// Append and chain
// ============================================================================

// TestLogAssignsSequenceAndChain tests seq assignment and per-item linking.
func TestLogAssignsSequenceAndChain(t *testing.T) {
	ctx := context.Background()
	l, _ := openMemory(t)

	first, err := l.Log(ctx, decision("a"))
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if first.Seq != 1 || first.ID == "" || first.Hash == "" || first.PrevHash != "" {
		t.Errorf("Unexpected first entry: %+v", first)
	}
	other, _ := l.Log(ctx, decision("b"))
	second, _ := l.Log(ctx, ledger.Entry{Kind: ledger.KindExecution, ItemID: "a"})

	if second.PrevHash != first.Hash {
		t.Error("Expected second entry of item a to link to the first")
	}
	if other.PrevHash != "" {
		t.Error("Expected item b to start its own chain")
	}
	if second.Seq <= other.Seq {
		t.Errorf("Expected increasing seq, got %d after %d", second.Seq, other.Seq)
	}
	if err := l.Verify(ctx, "a"); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

// TestVerifyDetectsTampering tests chain verification.
func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	l, st := openMemory(t)

	l.Log(ctx, decision("a"))
	e, _ := l.Log(ctx, ledger.Entry{Kind: ledger.KindTransition, ItemID: "a",
		Transition: &ledger.Transition{From: forgetting.StageOriginal, To: forgetting.StageCompressed}})
	l.Log(ctx, ledger.Entry{Kind: ledger.KindExecution, ItemID: "a"})

	st.Tamper(e.Seq, "rewritten")
	err := l.Verify(ctx, "a")
	var ce *ledger.ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ChainError, got %v", err)
	}
	if ce.Seq != e.Seq {
		t.Errorf("Expected break at seq %d, got %d", e.Seq, ce.Seq)
	}
}

// TestLogFailureNotCommitted tests that storage failures surface to the caller.
func TestLogFailureNotCommitted(t *testing.T) {
	ctx := context.Background()
	l, st := openMemory(t)

	st.SetFailure(errors.New("disk full"))
	if _, err := l.Log(ctx, decision("a")); err == nil {
		t.Fatal("Expected error when storage fails")
	}
	st.SetFailure(nil)

	e, err := l.Log(ctx, decision("a"))
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if e.PrevHash != "" {
		t.Error("Failed append must not advance the chain head")
	}
	if n, _ := st.Count(ctx, nil); n != 1 {
		t.Errorf("Expected 1 stored entry, got %d", n)
	}
}

// TestLogConcurrent tests concurrent appends across and within items.
func TestLogConcurrent(t *testing.T) {
	ctx := context.Background()
	l, st := openMemory(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, id := range []string{"a", "b", "c"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := l.Log(ctx, decision(id)); err != nil {
					t.Errorf("Log: %v", err)
				}
			}(id)
		}
	}
	wg.Wait()

	if n, _ := st.Count(ctx, nil); n != 60 {
		t.Errorf("Expected 60 entries, got %d", n)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := l.Verify(ctx, id); err != nil {
			t.Errorf("Verify(%s): %v", id, err)
		}
	}
}

// TestChainCacheBounded tests that evicted chain heads reload from storage.
func TestChainCacheBounded(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	l, err := ledger.Open(ctx, st, ledger.WithMaxChains(2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ids := []string{"a", "b", "c", "d", "e"}
	first := make(map[string]ledger.Entry, len(ids))
	for _, id := range ids {
		e, err := l.Log(ctx, decision(id))
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
		first[id] = e
	}
	if n := l.CachedChains(); n > 2 {
		t.Errorf("Expected at most 2 cached chains, got %d", n)
	}

	for _, id := range ids {
		e, err := l.Log(ctx, decision(id))
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
		if e.PrevHash != first[id].Hash {
			t.Errorf("Expected %s to link to %s, got %s", id, first[id].Hash, e.PrevHash)
		}
		if err := l.Verify(ctx, id); err != nil {
			t.Errorf("Verify(%s): %v", id, err)
		}
	}
	if n := l.CachedChains(); n > 2 {
		t.Errorf("Expected at most 2 cached chains, got %d", n)
	}
}

// TestSystemChain tests entries without an item.
func TestSystemChain(t *testing.T) {
	ctx := context.Background()
	l, _ := openMemory(t)

	l.Log(ctx, ledger.Entry{Kind: ledger.KindLearningUpdate, Attributes: map[string]string{"version": "1"}})
	l.Log(ctx, ledger.Entry{Kind: ledger.KindLearningUpdate, Attributes: map[string]string{"version": "2"}})
	l.Log(ctx, decision("a"))

	if err := l.Verify(ctx, ledger.SystemChain); err != nil {
		t.Errorf("Verify system chain: %v", err)
	}
	if _, err := l.Log(ctx, ledger.Entry{}); err == nil {
		t.Error("Expected error for entry without kind")
	}
}

// ============================================================================
// SQLite
// ============================================================================

// TestSQLiteResume tests sequence and chain resumption after reopen.
func TestSQLiteResume(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l := openSQLite(t, path)
	l.Log(ctx, decision("a"))
	last, err := l.Log(ctx, ledger.Entry{Kind: ledger.KindExecution, ItemID: "a", Reason: "ok"})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	l.Close()

	l = openSQLite(t, path)
	defer l.Close()
	next, err := l.Log(ctx, ledger.Entry{Kind: ledger.KindTransition, ItemID: "a",
		Transition: &ledger.Transition{From: forgetting.StageOriginal, To: forgetting.StageCompressed}})
	if err != nil {
		t.Fatalf("Log after reopen: %v", err)
	}
	if next.Seq != last.Seq+1 {
		t.Errorf("Expected seq %d, got %d", last.Seq+1, next.Seq)
	}
	if next.PrevHash != last.Hash {
		t.Error("Expected chain to resume from stored head")
	}
	if err := l.Verify(ctx, "a"); err != nil {
		t.Errorf("Verify after reopen: %v", err)
	}

	entries, err := l.Query(ctx, &ledger.Query{ItemID: "a", Kinds: []ledger.EventKind{ledger.KindDecision}})
	if err != nil || len(entries) != 1 {
		t.Fatalf("Expected 1 decision, got %d (err=%v)", len(entries), err)
	}
	if entries[0].Scores == nil || entries[0].Scores.Usage != 0.42 {
		t.Errorf("Expected logged score vector to round trip, got %+v", entries[0].Scores)
	}
}
