package policy

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/forgetting"
)

// Band is a composite interval [Min, Max). A Max of 1 includes 1.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether j falls in the band.
func (b Band) Contains(j float64) bool {
	if j < b.Min {
		return false
	}
	if b.Max >= 1 {
		return j <= 1
	}
	return j < b.Max
}

// Rule is one row of the policy table. Empty keys and a nil Risk are
// wildcards.
type Rule struct {
	Name       string                  `yaml:"name" json:"name"`
	Class      forgetting.DataClass    `yaml:"class,omitempty" json:"class,omitempty"`
	Risk       *forgetting.RiskLevel   `yaml:"risk,omitempty" json:"risk,omitempty"`
	StageTier  forgetting.StageTier    `yaml:"stage_tier,omitempty" json:"stage_tier,omitempty"`
	BudgetTier budget.Tier             `yaml:"budget_tier,omitempty" json:"budget_tier,omitempty"`
	Composite  Band                    `yaml:"composite" json:"composite"`
	Strategy   forgetting.StrategyKind `yaml:"strategy" json:"strategy"`
	Params     forgetting.Params       `yaml:"params,omitempty" json:"params,omitempty"`

	// Soft rules are skipped at critical budget pressure.
	Soft bool `yaml:"soft,omitempty" json:"soft,omitempty"`
}

// Specificity counts the non-wildcard keys.
func (r Rule) Specificity() int {
	n := 0
	if r.Class != "" {
		n++
	}
	if r.Risk != nil {
		n++
	}
	if r.StageTier != forgetting.TierAnyStage {
		n++
	}
	if r.BudgetTier != budget.TierAny {
		n++
	}
	return n
}

// Matches reports whether the rule's keys and band cover the input.
func (r Rule) Matches(class forgetting.DataClass, risk forgetting.RiskLevel, stage forgetting.StageTier, tier budget.Tier, j float64) bool {
	if r.Class != "" && r.Class != class {
		return false
	}
	if r.Risk != nil && *r.Risk != risk {
		return false
	}
	if r.StageTier != forgetting.TierAnyStage && r.StageTier != stage {
		return false
	}
	if r.BudgetTier != budget.TierAny && r.BudgetTier != tier {
		return false
	}
	return r.Composite.Contains(j)
}

func (r *Rule) applyDefaults() {
	if r.Composite.Min == 0 && r.Composite.Max == 0 {
		r.Composite.Max = 1
	}
	if r.Strategy == forgetting.StrategyMask && r.Params.MaskProfile == "" {
		r.Params.MaskProfile = forgetting.DefaultMaskProfile
	}
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Class != "" && !r.Class.Valid() {
		return fmt.Errorf("rule %s: unknown class %q", r.Name, r.Class)
	}
	if r.Risk != nil && !r.Risk.Valid() {
		return fmt.Errorf("rule %s: invalid risk %d", r.Name, int(*r.Risk))
	}
	switch r.StageTier {
	case forgetting.TierAnyStage, forgetting.TierRaw, forgetting.TierReduced,
		forgetting.TierProtected, forgetting.TierKeyDependent, forgetting.TierTerminal:
	default:
		return fmt.Errorf("rule %s: unknown stage tier %q", r.Name, r.StageTier)
	}
	switch r.BudgetTier {
	case budget.TierAny, budget.TierNormal, budget.TierElevated, budget.TierCritical:
	default:
		return fmt.Errorf("rule %s: unknown budget tier %q", r.Name, r.BudgetTier)
	}
	if !r.Strategy.Valid() {
		return fmt.Errorf("rule %s: %w", r.Name, forgetting.ErrUnknownStrategy)
	}
	b := r.Composite
	if b.Min < 0 || b.Max > 1 || b.Min >= b.Max {
		return fmt.Errorf("rule %s: invalid composite band [%v, %v)", r.Name, b.Min, b.Max)
	}
	if r.Strategy == forgetting.StrategyMask {
		if err := r.Params.MaskProfile.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	if r.Strategy == forgetting.StrategyCompress && r.Params.CompressionRatio != 0 && r.Params.CompressionRatio < 1 {
		return fmt.Errorf("rule %s: compression ratio must be >= 1", r.Name)
	}
	return nil
}

// Table is an immutable, validated rule set.
type Table struct {
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Rules   []Rule `yaml:"rules" json:"rules"`
}

// NewTable validates rules and returns a table.
func NewTable(version string, rules []Rule) (*Table, error) {
	t := &Table{Version: version, Rules: append([]Rule(nil), rules...)}
	seen := make(map[string]bool, len(t.Rules))
	for i := range t.Rules {
		t.Rules[i].applyDefaults()
		if err := t.Rules[i].validate(); err != nil {
			return nil, err
		}
		if seen[t.Rules[i].Name] {
			return nil, fmt.Errorf("duplicate rule name %q", t.Rules[i].Name)
		}
		seen[t.Rules[i].Name] = true
	}
	return t, nil
}

// ParseTable decodes a YAML table.
func ParseTable(data []byte) (*Table, error) {
	var raw Table
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy table: %w", err)
	}
	if len(raw.Rules) == 0 {
		// Also catches files read mid-write.
		return nil, fmt.Errorf("policy table has no rules")
	}
	return NewTable(raw.Version, raw.Rules)
}

// LoadTable reads a YAML table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy table: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Candidates returns the matching rules in precedence order: most specific
// first, then least irreversible, then table order.
func (t *Table) Candidates(class forgetting.DataClass, risk forgetting.RiskLevel, stage forgetting.StageTier, tier budget.Tier, j float64) []Rule {
	var out []Rule
	for _, r := range t.Rules {
		if r.Matches(class, risk, stage, tier, j) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		sa, sb := out[a].Specificity(), out[b].Specificity()
		if sa != sb {
			return sa > sb
		}
		return out[a].Strategy.Irreversibility() < out[b].Strategy.Irreversibility()
	})
	return out
}

func risk(r forgetting.RiskLevel) *forgetting.RiskLevel { return &r }

// DefaultTable is the built-in table used when no table file is configured.
func DefaultTable() *Table {
	t, err := NewTable("builtin", []Rule{
		{Name: "retain-valuable", Composite: Band{0.6, 1}, Strategy: forgetting.StrategyDefer},
		{Name: "compress-moderate", Composite: Band{0.35, 0.6}, Strategy: forgetting.StrategyCompress,
			Params: forgetting.Params{CompressionRatio: 2, Lossless: true}, Soft: true},
		{Name: "archive-low-value", Composite: Band{0, 0.35}, Strategy: forgetting.StrategyArchive},

		{Name: "elevated-compress", BudgetTier: budget.TierElevated, Composite: Band{0.35, 0.7},
			Strategy: forgetting.StrategyCompress, Params: forgetting.Params{CompressionRatio: 3}, Soft: true},
		{Name: "critical-compress", BudgetTier: budget.TierCritical, Composite: Band{0.3, 0.6},
			Strategy: forgetting.StrategyCompress, Params: forgetting.Params{CompressionRatio: 4}},
		{Name: "critical-delete", BudgetTier: budget.TierCritical, Composite: Band{0, 0.3},
			Strategy: forgetting.StrategyDelete},

		{Name: "cache-retain", Class: forgetting.ClassCache, Composite: Band{0.4, 1},
			Strategy: forgetting.StrategyCacheRetain, Params: forgetting.Params{TTL: time.Hour}},
		{Name: "cache-drop", Class: forgetting.ClassCache, Composite: Band{0, 0.4},
			Strategy: forgetting.StrategyDelete},

		{Name: "log-compress", Class: forgetting.ClassLog, Composite: Band{0.2, 0.6},
			Strategy: forgetting.StrategyCompress, Params: forgetting.Params{CompressionRatio: 5, Lossless: true}},
		{Name: "log-delete", Class: forgetting.ClassLog, Composite: Band{0, 0.2},
			Strategy: forgetting.StrategyDelete},

		{Name: "pii-mask", Class: forgetting.ClassPII, StageTier: forgetting.TierRaw, Composite: Band{0, 0.6},
			Strategy: forgetting.StrategyMask, Params: forgetting.Params{MaskProfile: "X+Y+Z"}},
		{Name: "pii-encrypt", Class: forgetting.ClassPII, StageTier: forgetting.TierReduced, Composite: Band{0, 0.5},
			Strategy: forgetting.StrategyArchive},
		{Name: "pii-critical-retain", Class: forgetting.ClassPII, Risk: risk(forgetting.RiskCritical),
			StageTier: forgetting.TierRaw, Composite: Band{0.5, 1}, Strategy: forgetting.StrategyDefer},

		{Name: "model-semantic", Class: forgetting.ClassModel, StageTier: forgetting.TierRaw, Composite: Band{0, 0.5},
			Strategy: forgetting.StrategySemanticPreserve},

		{Name: "protected-key-dependent", StageTier: forgetting.TierProtected, Composite: Band{0, 0.25},
			Strategy: forgetting.StrategyDelete},
		{Name: "key-dependent-destroy", StageTier: forgetting.TierKeyDependent, Composite: Band{0, 0.2},
			Strategy: forgetting.StrategyKeyDestroy},
	})
	if err != nil {
		panic(fmt.Sprintf("builtin policy table is invalid: %v", err))
	}
	return t
}
