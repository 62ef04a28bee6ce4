package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
)

func sampleEntries() []*ledger.Entry {
	j := 0.125
	return []*ledger.Entry{
		{
			ID: "e1", Seq: 1, Time: time.Unix(100, 0).UTC(), Kind: ledger.KindDecision, ItemID: "a",
			Composite: &j,
			Plan:      &forgetting.StrategyPlan{Kind: forgetting.StrategyArchive},
			Hash:      "h1",
		},
		{
			ID: "e2", Seq: 2, Time: time.Unix(200, 0).UTC(), Kind: ledger.KindTransition, ItemID: "a",
			Transition: &ledger.Transition{From: forgetting.StageOriginal, To: forgetting.StageEncrypted},
			Reason:     "archived, cold tier",
			PrevHash:   "h1", Hash: "h2",
		},
	}
}

// TestCSVExport tests header and flattened rows.
func TestCSVExport(t *testing.T) {
	var buf bytes.Buffer
	exp, _ := New(FormatCSV)
	if err := exp.Export(context.Background(), sampleEntries(), &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][5] != "archive" || rows[1][8] != "0.125000" {
		t.Errorf("Unexpected decision row: %v", rows[1])
	}
	if rows[2][6] != "original" || rows[2][7] != "encrypted" || rows[2][10] != "archived, cold tier" {
		t.Errorf("Unexpected transition row: %v", rows[2])
	}
}

// TestJSONLinesExport tests one object per line.
func TestJSONLinesExport(t *testing.T) {
	var buf bytes.Buffer
	exp, _ := New(FormatJSONLines)
	if err := exp.Export(context.Background(), sampleEntries(), &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var e ledger.Entry
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Transition == nil || e.Transition.To != forgetting.StageEncrypted {
		t.Errorf("Unexpected entry: %+v", e)
	}
}

// TestJSONExportEmpty tests that no entries yields an empty array.
func TestJSONExportEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(context.Background(), nil, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if buf.String() != "[]" {
		t.Errorf("Expected [], got %q", buf.String())
	}
	if _, err := New("xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
