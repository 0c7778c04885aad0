// Package series synthesizes plausible hourly histories for domains where no real
// sensor history is available. Output is stochastic within bounds: every value is
// clamped to its physical range.
package series

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/i474232898/agro-forecast/internal/agro"
)

// Length is the number of hourly points in a generated history.
const Length = 24

// Baseline holds the long-run soil values the simulated sensors oscillate around.
type Baseline struct {
	PH            float64
	Nitrogen      float64
	Phosphorus    float64
	Potassium     float64
	Moisture      float64
	OrganicMatter float64
}

// DefaultBaseline is a loam soil in good condition.
func DefaultBaseline() Baseline {
	return Baseline{
		PH:            6.8,
		Nitrogen:      45,
		Phosphorus:    25,
		Potassium:     35,
		Moisture:      35,
		OrganicMatter: 3.2,
	}
}

// Generator produces synthetic histories and simulated soil readings.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	baseline Baseline
}

// New creates a Generator drawing randomness from src. Pass a seeded source to pin
// outputs in tests.
func New(src rand.Source, baseline Baseline) *Generator {
	return &Generator{rng: rand.New(src), baseline: baseline}
}

// NewSeeded is a convenience for New with a PCG source.
func NewSeeded(seed uint64, baseline Baseline) *Generator {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), baseline)
}

// jitter returns a uniform value in [-spread, spread].
func (g *Generator) jitter(spread float64) float64 {
	return (g.rng.Float64()*2 - 1) * spread
}

// phase maps a wall-clock hour onto the diurnal cycle.
func phase(t time.Time) float64 {
	return 2 * math.Pi * float64(t.Hour()) / 24
}

func timeAt(now time.Time, i int) time.Time {
	return now.Add(-time.Duration(Length-1-i) * time.Hour)
}

// WeatherHistory returns 24 hourly points ending at now. Temperature follows a
// sine cycle and humidity a phase-shifted cosine, so the two are not perfectly
// correlated. The last point is the current observation.
func (g *Generator) WeatherHistory(current agro.Values, now time.Time) agro.Series {
	baseT := valueOr(current, agro.Temperature)
	baseH := valueOr(current, agro.Humidity)

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(agro.Series, Length)
	for i := 0; i < Length-1; i++ {
		p := phase(timeAt(now, i))
		t := baseT + 3*math.Sin(p) + g.jitter(1)
		// humidity drops as temperature rises
		h := baseH + 8*math.Cos(p+math.Pi/4) - 0.5*(t-baseT) + g.jitter(3)
		out[i] = agro.Point{
			Time: timeAt(now, i),
			Values: agro.Values{
				agro.Temperature: agro.Clamp(agro.Temperature, t),
				agro.Humidity:    agro.Clamp(agro.Humidity, h),
			},
		}
	}
	out[Length-1] = agro.Point{
		Time: now,
		Values: agro.Values{
			agro.Temperature: agro.Clamp(agro.Temperature, baseT),
			agro.Humidity:    agro.Clamp(agro.Humidity, baseH),
		},
	}
	return out
}

// SoilHistory returns 24 hourly soil points ending at now. Nitrogen responds
// inversely to the diurnal temperature and proportionally to humidity, derived
// from the weather values; phosphorus and potassium follow their own
// phase-shifted cycles. The last point is the current reading.
func (g *Generator) SoilHistory(current, weather agro.Values, now time.Time) agro.Series {
	basePH := valueOr(current, agro.PH)
	baseN := valueOr(current, agro.Nitrogen)
	baseP := valueOr(current, agro.Phosphorus)
	baseK := valueOr(current, agro.Potassium)
	baseT := valueOr(weather, agro.Temperature)
	baseH := valueOr(weather, agro.Humidity)

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(agro.Series, Length)
	for i := 0; i < Length-1; i++ {
		p := phase(timeAt(now, i))
		t := baseT + 3*math.Sin(p)
		h := baseH + 8*math.Cos(p+math.Pi/4)

		ph := basePH + 0.05*math.Sin(p) + g.jitter(0.05)
		n := baseN - 0.4*(t-baseT) + 0.15*(h-baseH) + g.jitter(2)
		ps := baseP + 1.5*math.Sin(p+math.Pi/3) + g.jitter(1)
		k := baseK + 2*math.Cos(p+math.Pi/6) + 0.05*(h-baseH) + g.jitter(1.5)

		out[i] = agro.Point{
			Time: timeAt(now, i),
			Values: agro.Values{
				agro.PH:         agro.Clamp(agro.PH, ph),
				agro.Nitrogen:   agro.Clamp(agro.Nitrogen, n),
				agro.Phosphorus: agro.Clamp(agro.Phosphorus, ps),
				agro.Potassium:  agro.Clamp(agro.Potassium, k),
			},
		}
	}
	last := agro.Values{}
	for _, v := range agro.DomainSoil.Tracked() {
		last[v] = agro.Clamp(v, valueOr(current, v))
	}
	out[Length-1] = agro.Point{Time: now, Values: last}
	return out
}

// CurrentSoil simulates a soil sensor reading at now, coupled to the current
// weather: moisture follows humidity and falls with heat, nitrogen mineralizes
// faster in warm moist soil.
func (g *Generator) CurrentSoil(weather agro.Values, now time.Time) agro.Values {
	b := g.baseline
	t := valueOr(weather, agro.Temperature)
	h := valueOr(weather, agro.Humidity)
	dT := t - agro.SpecOf(agro.Temperature).Default
	dH := h - agro.SpecOf(agro.Humidity).Default
	p := phase(now)

	g.mu.Lock()
	defer g.mu.Unlock()

	return agro.Values{
		agro.PH:            agro.Clamp(agro.PH, b.PH+0.05*math.Sin(p)+g.jitter(0.1)),
		agro.Nitrogen:      agro.Clamp(agro.Nitrogen, b.Nitrogen-0.4*dT+0.15*dH+g.jitter(3)),
		agro.Phosphorus:    agro.Clamp(agro.Phosphorus, b.Phosphorus+1.5*math.Sin(p+math.Pi/3)+g.jitter(2)),
		agro.Potassium:     agro.Clamp(agro.Potassium, b.Potassium+2*math.Cos(p+math.Pi/6)+g.jitter(2.5)),
		agro.Moisture:      agro.Clamp(agro.Moisture, b.Moisture+0.3*dH-0.5*dT+g.jitter(2)),
		agro.OrganicMatter: agro.Clamp(agro.OrganicMatter, b.OrganicMatter+g.jitter(0.1)),
	}
}

func valueOr(v agro.Values, name agro.Variable) float64 {
	if x, ok := v[name]; ok && !math.IsNaN(x) && !math.IsInf(x, 0) {
		return x
	}
	return agro.SpecOf(name).Default
}
