package forgetting

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

// TestStageTier tests the policy tier of every stage.
func TestStageTier(t *testing.T) {
	tests := []struct {
		stage Stage
		want  StageTier
	}{
		{StageOriginal, TierRaw},
		{StageCompressed, TierReduced},
		{StageCoreExtracted, TierReduced},
		{StageEncrypted, TierProtected},
		{StageKeyDistributed, TierProtected},
		{StageKeyDependent, TierKeyDependent},
		{StageKeyDestroyed, TierTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			if got := tt.stage.Tier(); got != tt.want {
				t.Errorf("Expected tier %q, got %q", tt.want, got)
			}
		})
	}
}

// TestStageKeyDistributed tests the key-distributed variant range.
func TestStageKeyDistributed(t *testing.T) {
	for s := StageOriginal; s <= StageKeyDestroyed; s++ {
		want := s >= StageKeySplit && s <= StageKeyDistributed
		if got := s.KeyDistributed(); got != want {
			t.Errorf("%s: expected %v, got %v", s, want, got)
		}
	}
	if !StageKeyDestroyed.Terminal() || StageKeyDependent.Terminal() {
		t.Error("Only stage 9 should be terminal")
	}
}

// TestStrategyApplicableAt tests that transitions must advance the stage.
func TestStrategyApplicableAt(t *testing.T) {
	tests := []struct {
		name  string
		kind  StrategyKind
		stage Stage
		want  bool
	}{
		{"compress raw", StrategyCompress, StageOriginal, true},
		{"compress compressed", StrategyCompress, StageCompressed, false},
		{"archive masked", StrategyArchive, StageMasked, true},
		{"mask encrypted", StrategyMask, StageEncrypted, false},
		{"delete protected", StrategyDelete, StageKeyDistributed, true},
		{"delete key dependent", StrategyDelete, StageKeyDependent, false},
		{"shred key dependent", StrategyKeyDestroy, StageKeyDependent, true},
		{"defer anywhere", StrategyDefer, StageKeyDependent, true},
		{"defer terminal", StrategyDefer, StageKeyDestroyed, false},
		{"retain raw", StrategyCacheRetain, StageOriginal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.ApplicableAt(tt.stage); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestStrategyIrreversibilityOrder tests the declared ordering.
func TestStrategyIrreversibilityOrder(t *testing.T) {
	for i := 1; i < len(StrategyKinds); i++ {
		if StrategyKinds[i-1].Irreversibility() >= StrategyKinds[i].Irreversibility() {
			t.Errorf("%s should be less irreversible than %s", StrategyKinds[i-1], StrategyKinds[i])
		}
	}
}

// TestStrategyKindText tests text round trip and rejection of unknown names.
func TestStrategyKindText(t *testing.T) {
	for _, k := range StrategyKinds {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", k, err)
		}
		var got StrategyKind
		if err := got.UnmarshalText(b); err != nil || got != k {
			t.Errorf("Expected %s, got %s (err=%v)", k, got, err)
		}
	}
	var k StrategyKind
	if err := k.UnmarshalText([]byte("shred_everything")); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

// TestEstimatedReclaim tests per-strategy reclaim estimates.
func TestEstimatedReclaim(t *testing.T) {
	tests := []struct {
		name string
		plan StrategyPlan
		want int64
	}{
		{"defer", StrategyPlan{Kind: StrategyDefer}, 0},
		{"delete", StrategyPlan{Kind: StrategyDelete}, 1000},
		{"compress ratio 4", StrategyPlan{Kind: StrategyCompress, Params: Params{CompressionRatio: 4}}, 750},
		{"compress default", StrategyPlan{Kind: StrategyCompress}, 500},
		{"mask X", StrategyPlan{Kind: StrategyMask, Params: Params{MaskProfile: "X"}}, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.plan.EstimatedReclaim(1000); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

// TestMaskProfileCanonical tests ordering and lookup of combined profiles.
func TestMaskProfileCanonical(t *testing.T) {
	if got := MaskProfile("t+x").Canonical(); got != "X+T" {
		t.Errorf("Expected X+T, got %s", got)
	}
	if rate := MaskRate("Z+X+T+Y"); math.Abs(rate-0.96667) > 1e-9 {
		t.Errorf("Expected 0.96667, got %v", rate)
	}
	if err := MaskProfile("Q").Validate(); err == nil {
		t.Error("Expected error for unknown profile")
	}
	if rate := MaskRate(""); rate != maskRates[DefaultMaskProfile] {
		t.Errorf("Expected default profile rate, got %v", rate)
	}
}

// TestWeightsValidate tests the simplex check.
func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights.Validate(); err != nil {
		t.Fatalf("Default weights invalid: %v", err)
	}
	bad := DefaultWeights
	bad[AxisRisk] = -0.1
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for negative weight")
	}
	off := DefaultWeights
	off[AxisUsage] += 0.1
	if err := off.Validate(); err == nil {
		t.Error("Expected error for weights not summing to 1")
	}

	w, err := WeightsFromMap(DefaultWeights.Map())
	if err != nil || w != DefaultWeights {
		t.Errorf("Expected map round trip, got %v (err=%v)", w, err)
	}
}

// TestRiskLevelJSON tests that risk levels encode by name.
func TestRiskLevelJSON(t *testing.T) {
	meta := Meta{Class: ClassPII, Risk: RiskCritical, CreatedAt: time.Unix(0, 0).UTC()}
	b, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Meta
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Risk != RiskCritical {
		t.Errorf("Expected CRITICAL, got %s", got.Risk)
	}
	if _, err := ParseRiskLevel("severe"); err == nil {
		t.Error("Expected error for unknown risk level")
	}
}

// TestMetaWithRevision tests that revisions copy rather than alias tags.
func TestMetaWithRevision(t *testing.T) {
	orig := Meta{Tags: []string{"a"}, Risk: RiskLow}
	rev := orig.WithRevision(time.Now(), RiskHigh)
	rev.Tags[0] = "b"
	if orig.Tags[0] != "a" || orig.Risk != RiskLow {
		t.Error("WithRevision mutated the original")
	}
}

// TestScoreVectorSet tests copy-on-write updates.
func TestScoreVectorSet(t *testing.T) {
	v := Uniform(0.2)
	w := v.Set(AxisUsage, 0.9)
	if v.Usage != 0.2 || w.Usage != 0.9 {
		t.Errorf("Expected copy-on-write, got v=%v w=%v", v.Usage, w.Usage)
	}
	if !w.InRange() {
		t.Error("Expected vector in range")
	}
	if w.Set(AxisRisk, 1.5).InRange() {
		t.Error("Expected out-of-range vector to be detected")
	}
}

// TestGateDeniedErrorAs tests errors.As through wrapping.
func TestGateDeniedErrorAs(t *testing.T) {
	cause := errors.New("boom")
	err := fmtWrap(NewGateDeniedError("item-1", StageKeyDependent, StageKeyDestroyed, DenyStepFailed, cause))
	gd, ok := IsGateDenied(err)
	if !ok {
		t.Fatal("Expected GateDeniedError")
	}
	if gd.Reason != DenyStepFailed || !errors.Is(err, cause) {
		t.Errorf("Unexpected denial: %+v", gd)
	}
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
