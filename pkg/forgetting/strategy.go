package forgetting

import (
	"fmt"
	"time"
)

// StrategyKind is the closed set of forgetting strategies.
type StrategyKind uint8

const (
	StrategyDefer StrategyKind = iota
	StrategyCacheRetain
	StrategyCompress
	StrategySemanticPreserve
	StrategyMask
	StrategyArchive
	StrategyDelete
	StrategyKeyDestroy
)

var strategyNames = [...]string{
	"defer",
	"cache_retain",
	"compress",
	"semantic_preserve",
	"mask",
	"archive",
	"delete",
	"key_destroy",
}

// StrategyKinds lists every kind, least irreversible first.
var StrategyKinds = []StrategyKind{
	StrategyDefer,
	StrategyCacheRetain,
	StrategyCompress,
	StrategySemanticPreserve,
	StrategyMask,
	StrategyArchive,
	StrategyDelete,
	StrategyKeyDestroy,
}

func (k StrategyKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("StrategyKind(%d)", k)
	}
	return strategyNames[k]
}

// Valid reports whether k is a defined kind.
func (k StrategyKind) Valid() bool {
	return int(k) < len(strategyNames)
}

// ParseStrategyKind resolves a kind by name.
func ParseStrategyKind(s string) (StrategyKind, error) {
	for i, n := range strategyNames {
		if n == s {
			return StrategyKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k StrategyKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid strategy kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StrategyKind) UnmarshalText(b []byte) error {
	v, err := ParseStrategyKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Irreversibility ranks k; lower values are easier to undo.
func (k StrategyKind) Irreversibility() int {
	return int(k)
}

// Destructive reports whether k removes primary data (archive and beyond).
func (k StrategyKind) Destructive() bool {
	return k >= StrategyArchive
}

// TargetStage is the stage a successful execution of k moves an item to.
// The second result is false for kinds that cause no transition.
func (k StrategyKind) TargetStage() (Stage, bool) {
	switch k {
	case StrategyCompress:
		return StageCompressed, true
	case StrategyMask:
		return StageMasked, true
	case StrategySemanticPreserve:
		return StageCoreExtracted, true
	case StrategyArchive:
		return StageEncrypted, true
	case StrategyDelete:
		return StageKeyDependent, true
	case StrategyKeyDestroy:
		return StageKeyDestroyed, true
	}
	return 0, false
}

// ApplicableAt reports whether k can run on an item at stage s. Transition
// kinds must advance the stage; defer and cache_retain apply anywhere short
// of terminal.
func (k StrategyKind) ApplicableAt(s Stage) bool {
	if s.Terminal() {
		return false
	}
	target, ok := k.TargetStage()
	if !ok {
		return true
	}
	return target > s
}

// Params carries per-kind execution parameters. Fields irrelevant to the
// kind are zero.
type Params struct {
	CompressionRatio float64       `json:"compression_ratio,omitempty" yaml:"compression_ratio,omitempty"`
	Lossless         bool          `json:"lossless,omitempty" yaml:"lossless,omitempty"`
	MaskProfile      MaskProfile   `json:"mask_profile,omitempty" yaml:"mask_profile,omitempty"`
	TTL              time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Delay            time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// StrategyPlan is a fully specified strategy for one item.
type StrategyPlan struct {
	ID          string       `json:"id"`
	ItemID      string       `json:"item_id"`
	Kind        StrategyKind `json:"kind"`
	Params      Params       `json:"params"`
	FromStage   Stage        `json:"from_stage"`
	TargetStage Stage        `json:"target_stage"`
	Rationale   string       `json:"rationale,omitempty"`
	ApprovalRef string       `json:"approval_ref,omitempty"`
	Downgraded  bool         `json:"downgraded,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Transitions reports whether executing the plan moves the item.
func (p StrategyPlan) Transitions() bool {
	_, ok := p.Kind.TargetStage()
	return ok
}

// reclaimFraction is the share of an item's size a strategy frees.
func reclaimFraction(k StrategyKind, params Params) float64 {
	switch k {
	case StrategyCompress:
		if params.CompressionRatio > 1 {
			return 1 - 1/params.CompressionRatio
		}
		return 0.5
	case StrategyMask:
		return MaskRate(params.MaskProfile) * 0.5
	case StrategySemanticPreserve:
		return 0.5
	case StrategyArchive:
		return 0.9
	case StrategyDelete, StrategyKeyDestroy:
		return 1
	}
	return 0
}

// EstimatedReclaim is the bytes a plan is expected to free from an item of
// the given size.
func (p StrategyPlan) EstimatedReclaim(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return int64(float64(size) * reclaimFraction(p.Kind, p.Params))
}
