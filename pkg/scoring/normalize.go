package scoring

import (
	"fmt"
	"math"

	"mercator-hq/lethe/pkg/forgetting"
)

// Method names a normalization function.
type Method string

const (
	MethodMinMax Method = "minmax"
	MethodLog    Method = "log"
	MethodWinsor Method = "winsor"
)

// AxisConfig declares how one axis is normalized. DomainMin/DomainMax bound
// acceptable raw values; Min/Max are the scaling range. For winsor, Min/Max
// are the clip bounds.
type AxisConfig struct {
	Method    Method  `yaml:"method"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	DomainMin float64 `yaml:"domain_min"`
	DomainMax float64 `yaml:"domain_max"`
}

// Validate checks the axis configuration.
func (c AxisConfig) Validate() error {
	switch c.Method {
	case MethodMinMax, MethodLog, MethodWinsor:
	default:
		return fmt.Errorf("unknown normalization method %q", c.Method)
	}
	if !(c.Max > c.Min) {
		return fmt.Errorf("max (%v) must be greater than min (%v)", c.Max, c.Min)
	}
	if c.DomainMax < c.DomainMin {
		return fmt.Errorf("domain_max (%v) must not be less than domain_min (%v)", c.DomainMax, c.DomainMin)
	}
	return nil
}

// DefaultAxisConfigs returns the normalizers used when none are configured.
// Usage counts are heavy-tailed and log-scaled; semantic similarity accepts
// cosine values in [-1,1].
func DefaultAxisConfigs() map[forgetting.Axis]AxisConfig {
	unit := AxisConfig{Method: MethodMinMax, Min: 0, Max: 1, DomainMin: 0, DomainMax: 1}
	return map[forgetting.Axis]AxisConfig{
		forgetting.AxisImportance: unit,
		forgetting.AxisUsage:      {Method: MethodLog, Min: 0, Max: 10000, DomainMin: 0, DomainMax: math.MaxFloat64},
		forgetting.AxisSemantic:   {Method: MethodMinMax, Min: -1, Max: 1, DomainMin: -1, DomainMax: 1},
		forgetting.AxisContext:    unit,
		forgetting.AxisRisk:       unit,
		forgetting.AxisRedundancy: {Method: MethodWinsor, Min: 0, Max: 1, DomainMin: 0, DomainMax: math.MaxFloat64},
	}
}

// Normalize maps raw onto [0,1] under c. It returns an InvalidSignalError
// when raw is not finite or outside the declared domain.
func Normalize(axis forgetting.Axis, raw float64, c AxisConfig) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return forgetting.NeutralScore, forgetting.NewInvalidSignalError(axis, raw, "not finite")
	}
	if raw < c.DomainMin || raw > c.DomainMax {
		return forgetting.NeutralScore, forgetting.NewInvalidSignalError(axis, raw,
			fmt.Sprintf("outside domain [%v, %v]", c.DomainMin, c.DomainMax))
	}

	var v float64
	switch c.Method {
	case MethodLog:
		span := math.Log1p(c.Max - c.Min)
		v = math.Log1p(math.Max(raw-c.Min, 0)) / span
	case MethodWinsor:
		v = (clampf(raw, c.Min, c.Max) - c.Min) / (c.Max - c.Min)
	default:
		v = (raw - c.Min) / (c.Max - c.Min)
	}
	return clamp01(v), nil
}

func clampf(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clamp01(x float64) float64 {
	return clampf(x, 0, 1)
}
