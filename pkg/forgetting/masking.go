package forgetting

import (
	"fmt"
	"sort"
	"strings"
)

// MaskProfile names a combination of masking dimensions. X masks direct
// identifiers, Y quasi-identifiers, Z free-text content and T temporal
// detail. Profiles combine with "+", e.g. "X+Z".
type MaskProfile string

var maskRates = map[MaskProfile]float64{
	"X":       0.5,
	"Y":       0.25,
	"Z":       0.33,
	"T":       0.66,
	"X+Y":     0.625,
	"X+Z":     0.665,
	"X+T":     0.83,
	"Y+Z":     0.4925,
	"Y+T":     0.745,
	"Z+T":     0.7778,
	"X+Y+Z":   0.74125,
	"X+Y+T":   0.89125,
	"X+Z+T":   0.94445,
	"Y+Z+T":   0.86335,
	"X+Y+Z+T": 0.96667,
}

// DefaultMaskProfile is used when a mask plan names none.
const DefaultMaskProfile MaskProfile = "X+Y"

var dimensionOrder = map[string]int{"X": 0, "Y": 1, "Z": 2, "T": 3}

// Canonical returns the profile with dimensions upper-cased and ordered
// X, Y, Z, T.
func (p MaskProfile) Canonical() MaskProfile {
	parts := strings.Split(strings.ToUpper(strings.ReplaceAll(string(p), " ", "")), "+")
	sort.SliceStable(parts, func(i, j int) bool {
		return dimensionOrder[parts[i]] < dimensionOrder[parts[j]]
	})
	return MaskProfile(strings.Join(parts, "+"))
}

// Validate reports whether p is a known profile.
func (p MaskProfile) Validate() error {
	if _, ok := maskRates[p.Canonical()]; !ok {
		return fmt.Errorf("unknown mask profile %q", string(p))
	}
	return nil
}

// MaskRate returns the fraction of content a profile masks. The empty
// profile means DefaultMaskProfile; unknown profiles mask nothing.
func MaskRate(p MaskProfile) float64 {
	if p == "" {
		p = DefaultMaskProfile
	}
	return maskRates[p.Canonical()]
}
