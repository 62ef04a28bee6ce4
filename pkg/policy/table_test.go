package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/forgetting"
)

const sampleTable = `
version: "2026-03"
rules:
  - name: pii-mask
    class: pii
    stage_tier: raw
    composite: {min: 0, max: 0.6}
    strategy: mask
    params:
      mask_profile: "Z+X"
  - name: critical-pii
    class: pii
    risk: CRITICAL
    strategy: defer
  - name: cache-ttl
    class: cache
    budget_tier: elevated
    strategy: cache_retain
    params:
      ttl: 90m
    soft: true
`

// TestParseTable tests YAML decoding of keys, params, and defaults.
func TestParseTable(t *testing.T) {
	table, err := ParseTable([]byte(sampleTable))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if table.Version != "2026-03" || len(table.Rules) != 3 {
		t.Fatalf("Unexpected table: %+v", table)
	}

	mask := table.Rules[0]
	if mask.Strategy != forgetting.StrategyMask || mask.Params.MaskProfile != "Z+X" {
		t.Errorf("Unexpected mask rule: %+v", mask)
	}
	if mask.Specificity() != 2 {
		t.Errorf("Expected specificity 2, got %d", mask.Specificity())
	}

	crit := table.Rules[1]
	if crit.Risk == nil || *crit.Risk != forgetting.RiskCritical {
		t.Errorf("Expected CRITICAL risk key, got %v", crit.Risk)
	}
	if crit.Composite.Max != 1 {
		t.Errorf("Expected default band max 1, got %v", crit.Composite.Max)
	}

	cache := table.Rules[2]
	if cache.BudgetTier != budget.TierElevated || !cache.Soft || cache.Params.TTL != 90*time.Minute {
		t.Errorf("Unexpected cache rule: %+v", cache)
	}
}

// TestParseTableInvalid tests validation failures.
func TestParseTableInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown strategy", "rules:\n  - name: a\n    strategy: shred\n", "unknown strategy"},
		{"missing name", "rules:\n  - strategy: defer\n", "name is required"},
		{"bad class", "rules:\n  - name: a\n    class: blob\n    strategy: defer\n", "unknown class"},
		{"bad band", "rules:\n  - name: a\n    composite: {min: 0.5, max: 0.2}\n    strategy: defer\n", "invalid composite band"},
		{"bad stage tier", "rules:\n  - name: a\n    stage_tier: frozen\n    strategy: defer\n", "unknown stage tier"},
		{"bad mask profile", "rules:\n  - name: a\n    strategy: mask\n    params: {mask_profile: Q}\n", "unknown mask profile"},
		{"duplicate", "rules:\n  - name: a\n    strategy: defer\n  - name: a\n    strategy: defer\n", "duplicate rule"},
		{"bad risk", "rules:\n  - name: a\n    risk: SEVERE\n    strategy: defer\n", "unknown risk level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestBandContains tests half-open bands and the closed top band.
func TestBandContains(t *testing.T) {
	tests := []struct {
		band     Band
		j        float64
		expected bool
	}{
		{Band{0, 0.35}, 0.35, false},
		{Band{0, 0.35}, 0.349, true},
		{Band{0.6, 1}, 1, true},
		{Band{0.6, 1}, 0.59, false},
	}
	for _, tt := range tests {
		if got := tt.band.Contains(tt.j); got != tt.expected {
			t.Errorf("Band %v contains %v: expected %v, got %v", tt.band, tt.j, tt.expected, got)
		}
	}
}

// TestLoadTableFile tests loading from disk.
func TestLoadTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(sampleTable), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if len(table.Rules) != 3 {
		t.Errorf("Expected 3 rules, got %d", len(table.Rules))
	}
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestDefaultTableValid tests that the builtin table covers every class at
// every stage tier below terminal.
func TestDefaultTableValid(t *testing.T) {
	table := DefaultTable()
	for _, class := range forgetting.Classes {
		for _, j := range []float64{0, 0.3, 0.5, 0.9, 1} {
			if len(table.Candidates(class, forgetting.RiskLow, forgetting.TierRaw, budget.TierNormal, j)) == 0 {
				t.Errorf("No rule for class %s at composite %v", class, j)
			}
		}
	}
}

// TestLoadExampleTable tests that the shipped example table loads.
func TestLoadExampleTable(t *testing.T) {
	tbl, err := LoadTable(filepath.Join("..", "..", "examples", "policy.yaml"))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Version != "2026-10" {
		t.Errorf("Expected version 2026-10, got %s", tbl.Version)
	}
	if len(tbl.Rules) != 10 {
		t.Errorf("Expected 10 rules, got %d", len(tbl.Rules))
	}
}
