package budget

import (
	"errors"
	"fmt"
	"time"
)

// GlobalScope aggregates every other scope.
const GlobalScope = "global"

// ScopeKind classifies a budget scope.
type ScopeKind string

const (
	KindGlobal ScopeKind = "global"
	KindDomain ScopeKind = "domain"
	KindTable  ScopeKind = "table"
	KindCache  ScopeKind = "cache"
	KindLog    ScopeKind = "log"
)

// ScopeID builds the identifier "kind:name"; the global scope is "global".
func ScopeID(kind ScopeKind, name string) string {
	if kind == KindGlobal {
		return GlobalScope
	}
	return string(kind) + ":" + name
}

// Tier is the budget pressure level the policy engine keys on.
type Tier string

const (
	TierAny      Tier = ""
	TierNormal   Tier = "normal"
	TierElevated Tier = "elevated"
	TierCritical Tier = "critical"
)

// Limits are the capacity and watermarks of a scope, in bytes. They must
// satisfy 0 < Low < High <= Capacity.
type Limits struct {
	Capacity int64 `yaml:"capacity"`
	Low      int64 `yaml:"low_watermark"`
	High     int64 `yaml:"high_watermark"`
}

// Validate checks the watermark ordering.
func (l Limits) Validate() error {
	if l.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if l.Low <= 0 || l.Low >= l.High {
		return fmt.Errorf("low watermark (%d) must be positive and below high watermark (%d)", l.Low, l.High)
	}
	if l.High > l.Capacity {
		return fmt.Errorf("high watermark (%d) exceeds capacity (%d)", l.High, l.Capacity)
	}
	return nil
}

// TierFor returns the tier of a volume under l: normal below the low
// watermark, elevated between the watermarks, critical at or above high.
func (l Limits) TierFor(volume int64) Tier {
	switch {
	case volume >= l.High:
		return TierCritical
	case volume >= l.Low:
		return TierElevated
	}
	return TierNormal
}

// State is a point-in-time view of one scope.
type State struct {
	Scope      string    `json:"scope"`
	Limits     Limits    `json:"limits"`
	Volume     int64     `json:"volume"`
	Tier       Tier      `json:"tier"`
	Evicting   bool      `json:"evicting"`
	IngestRate float64   `json:"ingest_rate"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Pressure returns volume as a fraction of capacity.
func (s State) Pressure() float64 {
	if s.Limits.Capacity == 0 {
		return 0
	}
	return float64(s.Volume) / float64(s.Limits.Capacity)
}

// Trigger asks the eviction scheduler to drain a scope down to Target.
type Trigger struct {
	Scope  string    `json:"scope"`
	Volume int64     `json:"volume"`
	Target int64     `json:"target"`
	Tier   Tier      `json:"tier"`
	At     time.Time `json:"at"`
}

// Excess is the number of bytes above the target.
func (t Trigger) Excess() int64 {
	if t.Volume <= t.Target {
		return 0
	}
	return t.Volume - t.Target
}

// ErrUnknownScope is returned for scopes that were never registered.
var ErrUnknownScope = errors.New("unknown budget scope")
