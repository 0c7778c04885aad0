package prediction

import (
	"math"

	"github.com/i474232898/agro-forecast/internal/agro"
)

// WindowLength is the number of time steps the inference contract expects.
const WindowLength = 24

// VectorLength returns the fixed request length for d: 48 for weather, 96 for soil.
func VectorLength(d agro.Domain) int {
	return WindowLength * len(d.Tracked())
}

// PrepareVector flattens s into the fixed-length input vector for d. Each step
// contributes its tracked variables in domain order. Longer series keep their
// most recent steps; shorter ones are padded in front with domain defaults so the
// newest observed step always ends the vector. Missing or non-finite values inside
// a step are replaced with the default.
func PrepareVector(d agro.Domain, s agro.Series) []float64 {
	vars := d.Tracked()
	defaults := agro.Defaults(d)

	if len(s) > WindowLength {
		s = s[len(s)-WindowLength:]
	}

	out := make([]float64, 0, VectorLength(d))
	for range WindowLength - len(s) {
		for _, v := range vars {
			out = append(out, defaults[v])
		}
	}
	for _, p := range s {
		for _, v := range vars {
			x, ok := p.Values[v]
			if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
				x = defaults[v]
			}
			out = append(out, x)
		}
	}
	return out
}

// lastStep returns the final tuple of a prepared vector as Values.
func lastStep(d agro.Domain, vec []float64) agro.Values {
	vars := d.Tracked()
	base := len(vec) - len(vars)
	out := make(agro.Values, len(vars))
	for i, v := range vars {
		out[v] = vec[base+i]
	}
	return out
}
