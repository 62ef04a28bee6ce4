package forgetting

import "fmt"

// Axis identifies one dimension of a ScoreVector.
type Axis int

const (
	AxisImportance Axis = iota
	AxisUsage
	AxisSemantic
	AxisTemporal
	AxisContext
	AxisRisk
	AxisRedundancy

	// NumAxes is the number of score axes.
	NumAxes = 7
)

var axisNames = [NumAxes]string{"importance", "usage", "semantic", "temporal", "context", "risk", "redundancy"}

// Axes lists every axis in declaration order.
var Axes = [NumAxes]Axis{AxisImportance, AxisUsage, AxisSemantic, AxisTemporal, AxisContext, AxisRisk, AxisRedundancy}

func (a Axis) String() string {
	if a < 0 || int(a) >= NumAxes {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return axisNames[a]
}

// ParseAxis resolves an axis by name.
func ParseAxis(s string) (Axis, error) {
	for i, n := range axisNames {
		if n == s {
			return Axis(i), nil
		}
	}
	return 0, fmt.Errorf("unknown score axis %q", s)
}

// MarshalText implements encoding.TextMarshaler so axes can key JSON and
// YAML maps.
func (a Axis) MarshalText() ([]byte, error) {
	if a < 0 || int(a) >= NumAxes {
		return nil, fmt.Errorf("invalid axis %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Axis) UnmarshalText(b []byte) error {
	v, err := ParseAxis(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AxisIssue records why an axis fell back to the neutral value.
type AxisIssue struct {
	Axis   Axis   `json:"axis"`
	Reason string `json:"reason"`
}

// ScoreVector holds normalized per-axis scores, each in [0,1]. Redundancy is
// stored as observed; composites invert it because high redundancy lowers
// retention value.
type ScoreVector struct {
	Importance float64     `json:"importance"`
	Usage      float64     `json:"usage"`
	Semantic   float64     `json:"semantic"`
	Temporal   float64     `json:"temporal"`
	Context    float64     `json:"context"`
	Risk       float64     `json:"risk"`
	Redundancy float64     `json:"redundancy"`
	Issues     []AxisIssue `json:"issues,omitempty"`
}

// NeutralScore is the fallback for unknown or invalid signals.
const NeutralScore = 0.5

// Get returns the score for axis a.
func (v ScoreVector) Get(a Axis) float64 {
	switch a {
	case AxisImportance:
		return v.Importance
	case AxisUsage:
		return v.Usage
	case AxisSemantic:
		return v.Semantic
	case AxisTemporal:
		return v.Temporal
	case AxisContext:
		return v.Context
	case AxisRisk:
		return v.Risk
	case AxisRedundancy:
		return v.Redundancy
	}
	return NeutralScore
}

// Set returns a copy of v with axis a set to x.
func (v ScoreVector) Set(a Axis, x float64) ScoreVector {
	out := v
	out.Issues = append([]AxisIssue(nil), v.Issues...)
	switch a {
	case AxisImportance:
		out.Importance = x
	case AxisUsage:
		out.Usage = x
	case AxisSemantic:
		out.Semantic = x
	case AxisTemporal:
		out.Temporal = x
	case AxisContext:
		out.Context = x
	case AxisRisk:
		out.Risk = x
	case AxisRedundancy:
		out.Redundancy = x
	}
	return out
}

// Values returns the scores as an array indexed by Axis.
func (v ScoreVector) Values() [NumAxes]float64 {
	return [NumAxes]float64{v.Importance, v.Usage, v.Semantic, v.Temporal, v.Context, v.Risk, v.Redundancy}
}

// Degraded reports whether axis a fell back to the neutral value.
func (v ScoreVector) Degraded(a Axis) bool {
	for _, is := range v.Issues {
		if is.Axis == a {
			return true
		}
	}
	return false
}

// InRange reports whether every axis lies in [0,1].
func (v ScoreVector) InRange() bool {
	for _, x := range v.Values() {
		if !(x >= 0 && x <= 1) {
			return false
		}
	}
	return true
}

// Uniform returns a vector with every axis set to x.
func Uniform(x float64) ScoreVector {
	return ScoreVector{Importance: x, Usage: x, Semantic: x, Temporal: x, Context: x, Risk: x, Redundancy: x}
}
