package agro

import "math"

// Variable names a measured quantity.
type Variable string

const (
	Temperature   Variable = "temperature"
	Humidity      Variable = "humidity"
	PH            Variable = "ph"
	Nitrogen      Variable = "nitrogen"
	Phosphorus    Variable = "phosphorus"
	Potassium     Variable = "potassium"
	Moisture      Variable = "moisture"
	OrganicMatter Variable = "organic_matter"
)

// VariableSpec describes the physical range of a variable, the value used to pad
// short inference windows, and the spread of fallback perturbations.
type VariableSpec struct {
	Min     float64
	Max     float64
	Default float64
	Spread  float64
}

var specs = map[Variable]VariableSpec{
	Temperature:   {Min: -20, Max: 50, Default: 20, Spread: 0.5},
	Humidity:      {Min: 0, Max: 100, Default: 60, Spread: 2},
	PH:            {Min: 5.5, Max: 8.5, Default: 7.0, Spread: 0.1},
	Nitrogen:      {Min: 0, Max: 150, Default: 45, Spread: 2},
	Phosphorus:    {Min: 0, Max: 100, Default: 25, Spread: 1},
	Potassium:     {Min: 0, Max: 150, Default: 35, Spread: 1.5},
	Moisture:      {Min: 0, Max: 100, Default: 35, Spread: 1},
	OrganicMatter: {Min: 0, Max: 10, Default: 3.2, Spread: 0.05},
}

// SpecOf returns the spec for v. Unknown variables get an unbounded zero spec.
func SpecOf(v Variable) VariableSpec {
	if s, ok := specs[v]; ok {
		return s
	}
	return VariableSpec{Min: math.Inf(-1), Max: math.Inf(1)}
}

// Clamp bounds x to the valid physical range of v. NaN maps to the default.
func Clamp(v Variable, x float64) float64 {
	s := SpecOf(v)
	if math.IsNaN(x) {
		return s.Default
	}
	return math.Min(s.Max, math.Max(s.Min, x))
}

// Defaults returns the padding defaults for the tracked variables of d.
func Defaults(d Domain) Values {
	out := Values{}
	for _, v := range d.Tracked() {
		out[v] = SpecOf(v).Default
	}
	return out
}

// ReadingDefaults returns defaults for every reported variable of d.
func ReadingDefaults(d Domain) Values {
	out := Values{}
	for _, v := range d.Reported() {
		out[v] = SpecOf(v).Default
	}
	return out
}
