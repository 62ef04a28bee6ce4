package policy

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
)

// ConstraintKind is the effect a tagged constraint has.
type ConstraintKind string

const (
	// MinRetention forbids destructive strategies until Retention has
	// elapsed since the item was created.
	MinRetention ConstraintKind = "min_retention"

	// LegalHold forbids destructive strategies while the tag is present.
	LegalHold ConstraintKind = "legal_hold"

	// BlocksShred only forbids key destruction.
	BlocksShred ConstraintKind = "blocks_shred"
)

// DefaultHoldSuffix marks tags that act as legal holds without being
// registered, e.g. "GDPR-hold".
const DefaultHoldSuffix = "-hold"

// Constraint binds a tag to a hard constraint.
type Constraint struct {
	Tag       string         `yaml:"tag" json:"tag"`
	Kind      ConstraintKind `yaml:"kind" json:"kind"`
	Retention time.Duration  `yaml:"retention,omitempty" json:"retention,omitempty"`
}

func (c Constraint) validate() error {
	if c.Tag == "" {
		return fmt.Errorf("constraint tag is required")
	}
	switch c.Kind {
	case LegalHold, BlocksShred:
	case MinRetention:
		if c.Retention <= 0 {
			return fmt.Errorf("constraint %s: min_retention requires a positive retention", c.Tag)
		}
	default:
		return fmt.Errorf("constraint %s: unknown kind %q", c.Tag, c.Kind)
	}
	return nil
}

// Evaluation lists the constraints active for one item.
type Evaluation struct {
	// Restricting constraints limit the item to non-destructive strategies.
	Restricting []string

	// ShredBlocking constraints forbid key destruction only.
	ShredBlocking []string
}

// Active reports whether any restricting constraint applies.
func (e Evaluation) Active() bool { return len(e.Restricting) > 0 }

// All returns every active constraint name.
func (e Evaluation) All() []string {
	return append(slices.Clone(e.Restricting), e.ShredBlocking...)
}

// Constraints is the registry of tag-based hard constraints. Tag matching
// ignores case.
type Constraints struct {
	mu           sync.RWMutex
	byTag        map[string]Constraint
	holdSuffixes []string
}

// NewConstraints creates a registry. A nil holdSuffixes uses
// DefaultHoldSuffix; an empty non-nil slice disables suffix holds.
func NewConstraints(holdSuffixes []string, constraints ...Constraint) (*Constraints, error) {
	if holdSuffixes == nil {
		holdSuffixes = []string{DefaultHoldSuffix}
	}
	c := &Constraints{byTag: make(map[string]Constraint)}
	for _, s := range holdSuffixes {
		c.holdSuffixes = append(c.holdSuffixes, strings.ToLower(s))
	}
	for _, con := range constraints {
		if err := c.Register(con); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces the constraint for a tag.
func (c *Constraints) Register(con Constraint) error {
	if err := con.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTag[strings.ToLower(con.Tag)] = con
	return nil
}

// List returns the registered constraints sorted by tag.
func (c *Constraints) List() []Constraint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Constraint, 0, len(c.byTag))
	for _, con := range c.byTag {
		out = append(out, con)
	}
	slices.SortFunc(out, func(a, b Constraint) int { return strings.Compare(a.Tag, b.Tag) })
	return out
}

// Evaluate returns the constraints active for meta at now.
func (c *Constraints) Evaluate(meta forgetting.Meta, now time.Time) Evaluation {
	var ev Evaluation
	if c == nil {
		return ev
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tag := range meta.Tags {
		key := strings.ToLower(tag)
		if con, ok := c.byTag[key]; ok {
			switch con.Kind {
			case LegalHold:
				ev.Restricting = append(ev.Restricting, string(LegalHold)+":"+tag)
			case MinRetention:
				if meta.CreatedAt.IsZero() || now.Before(meta.CreatedAt.Add(con.Retention)) {
					ev.Restricting = append(ev.Restricting, string(MinRetention)+":"+tag)
				}
			case BlocksShred:
				ev.ShredBlocking = append(ev.ShredBlocking, string(BlocksShred)+":"+tag)
			}
			continue
		}
		for _, suffix := range c.holdSuffixes {
			if suffix != "" && strings.HasSuffix(key, suffix) {
				ev.Restricting = append(ev.Restricting, string(LegalHold)+":"+tag)
				break
			}
		}
	}
	return ev
}

// BlocksDestruction reports the first constraint forbidding key
// destruction. It satisfies gate.Guard.
func (c *Constraints) BlocksDestruction(meta forgetting.Meta, now time.Time) (string, bool) {
	all := c.Evaluate(meta, now).All()
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// permittedUnder reports whether a strategy survives active restricting
// constraints.
func permittedUnder(kind forgetting.StrategyKind, params forgetting.Params) bool {
	switch kind {
	case forgetting.StrategyDefer, forgetting.StrategyCacheRetain:
		return true
	case forgetting.StrategyCompress:
		return params.Lossless
	}
	return false
}
