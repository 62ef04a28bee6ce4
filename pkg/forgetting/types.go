package forgetting

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DataClass is the business category of a stored item.
type DataClass string

const (
	ClassPII      DataClass = "pii"
	ClassLog      DataClass = "log"
	ClassModel    DataClass = "model"
	ClassDocument DataClass = "document"
	ClassCache    DataClass = "cache"
	ClassOther    DataClass = "other"
)

// Classes lists every known data class.
var Classes = []DataClass{ClassPII, ClassLog, ClassModel, ClassDocument, ClassCache, ClassOther}

// Valid reports whether c is a known class.
func (c DataClass) Valid() bool {
	return slices.Contains(Classes, c)
}

// ParseDataClass parses a class name case-insensitively.
func ParseDataClass(s string) (DataClass, error) {
	c := DataClass(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown data class %q", s)
	}
	return c, nil
}

// RiskLevel is the ordered sensitivity of an item.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

// String returns the upper-case risk name.
func (r RiskLevel) String() string {
	if r < RiskLow || r > RiskCritical {
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
	return riskNames[r]
}

// Valid reports whether r is one of the four defined levels.
func (r RiskLevel) Valid() bool {
	return r >= RiskLow && r <= RiskCritical
}

// Score maps the level onto the risk axis when no raw risk signal exists.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskLow:
		return 0.1
	case RiskMedium:
		return 0.4
	case RiskHigh:
		return 0.7
	case RiskCritical:
		return 1.0
	}
	return 0.5
}

// ParseRiskLevel parses LOW, MEDIUM, HIGH or CRITICAL, ignoring case.
func ParseRiskLevel(s string) (RiskLevel, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range riskNames {
		if name == up {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	v, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Meta is the metadata attached to an item. Only UpdatedAt and Risk may be
// revised after creation; use WithRevision.
type Meta struct {
	Tags        []string  `json:"tags,omitempty"`
	Class       DataClass `json:"class"`
	Risk        RiskLevel `json:"risk"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Source      string    `json:"source,omitempty"`
	ContextHash string    `json:"context_hash,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
}

// HasTag reports whether the metadata carries tag (exact match).
func (m Meta) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// WithRevision returns a copy with UpdatedAt and Risk revised.
func (m Meta) WithRevision(updatedAt time.Time, risk RiskLevel) Meta {
	out := m
	out.Tags = slices.Clone(m.Tags)
	out.UpdatedAt = updatedAt
	out.Risk = risk
	return out
}

// Item is a unit of stored data under governance. Location is an opaque
// storage reference understood by executors.
type Item struct {
	ID       string `json:"id"`
	Location string `json:"location,omitempty"`
	Meta     Meta   `json:"meta"`
}

// Validate checks the fields the core relies on.
func (i Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if i.Meta.Class != "" && !i.Meta.Class.Valid() {
		return fmt.Errorf("item %s: unknown class %q", i.ID, i.Meta.Class)
	}
	if !i.Meta.Risk.Valid() {
		return fmt.Errorf("item %s: invalid risk level %d", i.ID, int(i.Meta.Risk))
	}
	if i.Meta.SizeBytes < 0 {
		return fmt.Errorf("item %s: negative size %d", i.ID, i.Meta.SizeBytes)
	}
	return nil
}
