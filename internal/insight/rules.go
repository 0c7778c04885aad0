package insight

import (
	"fmt"

	"github.com/i474232898/agro-forecast/internal/agro"
)

// Messages emitted when no recommendation rule fires.
const (
	OptimalSoilMessage    = "Soil conditions are optimal; maintain current management practices."
	OptimalWeatherMessage = "Weather conditions are favourable for field work."
)

// minOrganicMatter is the organic matter percentage below which compost is advised.
const minOrganicMatter = 3.0

// Advice is the ordered output of the rule engine.
type Advice struct {
	Alerts          []string
	Recommendations []string
}

type rule struct {
	fires          func(v agro.Values, l map[agro.Variable]agro.Level) bool
	alert          func(v agro.Values) string
	recommendation string
}

func levelIs(name agro.Variable, want agro.Level) func(agro.Values, map[agro.Variable]agro.Level) bool {
	return func(_ agro.Values, l map[agro.Variable]agro.Level) bool {
		got, ok := l[name]
		return ok && got == want
	}
}

// soilRules are evaluated independently in priority order:
// acidity/alkalinity, nitrogen, phosphorus, potassium, then moisture and organic matter.
var soilRules = []rule{
	{
		fires:          levelIs(agro.PH, agro.LevelLow),
		alert:          func(v agro.Values) string { return fmt.Sprintf("Soil is too acidic (pH %.1f).", v[agro.PH]) },
		recommendation: "Apply agricultural lime to raise soil pH.",
	},
	{
		fires:          levelIs(agro.PH, agro.LevelHigh),
		alert:          func(v agro.Values) string { return fmt.Sprintf("Soil is too alkaline (pH %.1f).", v[agro.PH]) },
		recommendation: "Apply elemental sulfur or an acidifying fertilizer to lower soil pH.",
	},
	{
		fires: levelIs(agro.Nitrogen, agro.LevelLow),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Nitrogen deficiency detected (%.0f mg/kg).", v[agro.Nitrogen])
		},
		recommendation: "Apply a nitrogen-rich fertilizer such as urea or composted manure.",
	},
	{
		fires: levelIs(agro.Nitrogen, agro.LevelHigh),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Excess nitrogen (%.0f mg/kg) increases leaching risk.", v[agro.Nitrogen])
		},
		recommendation: "Reduce nitrogen applications and sow a cover crop to absorb the surplus.",
	},
	{
		fires: levelIs(agro.Phosphorus, agro.LevelLow),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Phosphorus deficiency detected (%.0f mg/kg).", v[agro.Phosphorus])
		},
		recommendation: "Apply a phosphate fertilizer such as DAP or bone meal.",
	},
	{
		fires: levelIs(agro.Phosphorus, agro.LevelHigh),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Excess phosphorus (%.0f mg/kg) increases runoff risk.", v[agro.Phosphorus])
		},
		recommendation: "Skip phosphorus fertilization this season.",
	},
	{
		fires: levelIs(agro.Potassium, agro.LevelLow),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Potassium deficiency detected (%.0f mg/kg).", v[agro.Potassium])
		},
		recommendation: "Apply potash (muriate or sulfate of potash).",
	},
	{
		fires: levelIs(agro.Potassium, agro.LevelHigh),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Excess potassium (%.0f mg/kg) can block magnesium uptake.", v[agro.Potassium])
		},
		recommendation: "Hold potassium applications until levels fall.",
	},
	{
		fires: levelIs(agro.Moisture, agro.LevelLow),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Soil moisture is low (%.0f%%).", v[agro.Moisture])
		},
		recommendation: "Irrigate: soil moisture is below the crop comfort range.",
	},
	{
		fires: levelIs(agro.Moisture, agro.LevelHigh),
		alert: func(v agro.Values) string {
			return fmt.Sprintf("Soil is waterlogged (%.0f%% moisture).", v[agro.Moisture])
		},
		recommendation: "Improve drainage and pause irrigation.",
	},
	{
		fires: func(v agro.Values, _ map[agro.Variable]agro.Level) bool {
			om, ok := v[agro.OrganicMatter]
			return ok && om < minOrganicMatter
		},
		recommendation: "Incorporate compost or crop residues to raise organic matter.",
	},
}

// SoilAdvice evaluates the soil rules against raw values and their levels.
// Recommendations are never empty.
func SoilAdvice(values agro.Values, levels map[agro.Variable]agro.Level) Advice {
	return evaluate(soilRules, values, levels, OptimalSoilMessage)
}

func weatherRules(cond *agro.Conditions) []rule {
	return []rule{
		{
			fires: func(v agro.Values, _ map[agro.Variable]agro.Level) bool { return v[agro.Temperature] < 2 },
			alert: func(v agro.Values) string {
				return fmt.Sprintf("Frost risk: temperature is %.1f°C.", v[agro.Temperature])
			},
			recommendation: "Cover sensitive crops overnight and delay transplanting.",
		},
		{
			fires: func(v agro.Values, _ map[agro.Variable]agro.Level) bool { return v[agro.Temperature] > 35 },
			alert: func(v agro.Values) string {
				return fmt.Sprintf("Heat stress: temperature is %.1f°C.", v[agro.Temperature])
			},
			recommendation: "Irrigate early in the morning and provide shade for young plants.",
		},
		{
			fires: func(v agro.Values, _ map[agro.Variable]agro.Level) bool { return v[agro.Humidity] > 85 },
			alert: func(v agro.Values) string {
				return fmt.Sprintf("High humidity (%.0f%%) favours fungal disease.", v[agro.Humidity])
			},
			recommendation: "Inspect leaves for mildew and improve airflow between rows.",
		},
		{
			fires: func(v agro.Values, _ map[agro.Variable]agro.Level) bool { return v[agro.Humidity] < 30 },
			alert: func(v agro.Values) string {
				return fmt.Sprintf("Dry air (%.0f%% humidity) raises evaporation losses.", v[agro.Humidity])
			},
			recommendation: "Increase irrigation frequency and mulch exposed soil.",
		},
		{
			fires: func(agro.Values, map[agro.Variable]agro.Level) bool {
				return cond != nil && cond.Condition == "storm"
			},
			alert:          func(agro.Values) string { return "Thunderstorm conditions reported." },
			recommendation: "Postpone spraying and secure equipment.",
		},
		{
			fires: func(agro.Values, map[agro.Variable]agro.Level) bool {
				return cond != nil && cond.WindSpeed > 10
			},
			alert: func(agro.Values) string {
				return fmt.Sprintf("Strong wind (%.1f m/s).", cond.WindSpeed)
			},
			recommendation: "Avoid spraying pesticides until wind drops below 10 m/s.",
		},
	}
}

// WeatherAdvice evaluates the weather rules. cond may be nil.
// Recommendations are never empty.
func WeatherAdvice(values agro.Values, levels map[agro.Variable]agro.Level, cond *agro.Conditions) Advice {
	return evaluate(weatherRules(cond), values, levels, OptimalWeatherMessage)
}

func evaluate(rules []rule, values agro.Values, levels map[agro.Variable]agro.Level, optimal string) Advice {
	adv := Advice{Alerts: []string{}, Recommendations: []string{}}
	for _, r := range rules {
		if !r.fires(values, levels) {
			continue
		}
		if r.alert != nil {
			adv.Alerts = append(adv.Alerts, r.alert(values))
		}
		if r.recommendation != "" {
			adv.Recommendations = append(adv.Recommendations, r.recommendation)
		}
	}
	if len(adv.Recommendations) == 0 {
		adv.Recommendations = append(adv.Recommendations, optimal)
	}
	return adv
}
