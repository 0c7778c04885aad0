package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/agro-forecast/internal/agro"
	"github.com/i474232898/agro-forecast/internal/cache"
	"github.com/i474232898/agro-forecast/internal/insight"
	"github.com/i474232898/agro-forecast/internal/prediction"
	"github.com/i474232898/agro-forecast/internal/weather"
)

var t0 = time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC)

type mockWeather struct{ mock.Mock }

func (m *mockWeather) Current(ctx context.Context) (weather.Observation, error) {
	args := m.Called(ctx)
	return args.Get(0).(weather.Observation), args.Error(1)
}

// flatSeries returns constant windows anchored on the current values.
type flatSeries struct {
	soil       agro.Values
	gotWeather agro.Values
	panics     bool
}

func (f *flatSeries) window(current agro.Values, now time.Time) agro.Series {
	s := make(agro.Series, 24)
	for i := range s {
		s[i] = agro.Point{Time: now.Add(time.Duration(i-23) * time.Hour), Values: current}
	}
	return s
}

func (f *flatSeries) WeatherHistory(current agro.Values, now time.Time) agro.Series {
	return f.window(current, now)
}

func (f *flatSeries) SoilHistory(current, _ agro.Values, now time.Time) agro.Series {
	return f.window(current, now)
}

func (f *flatSeries) CurrentSoil(w agro.Values, _ time.Time) agro.Values {
	if f.panics {
		panic("sensor bus exploded")
	}
	f.gotWeather = w
	return f.soil.Clone()
}

type countingPredictor struct {
	calls    atomic.Int32
	degraded bool
	release  chan struct{}
}

func (p *countingPredictor) Forecast(_ context.Context, d agro.Domain, s agro.Series) agro.Outcome[agro.Prediction] {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	last, _ := s.Last()
	next := agro.Values{}
	for _, v := range d.Tracked() {
		next[v] = last.Values[v]
	}
	pred := agro.Prediction{Values: next, Steps: []agro.Values{next}, Confidence: 0.9, Source: agro.SourceModel}
	if p.degraded {
		pred.Confidence = prediction.FallbackConfidence
		pred.Source = agro.SourceFallback
		return agro.Degraded(pred, prediction.ErrUpstreamUnavailable)
	}
	return agro.Ok(pred)
}

var deficientSoil = agro.Values{
	agro.PH: 7.2, agro.Nitrogen: 45, agro.Phosphorus: 23, agro.Potassium: 13,
	agro.Moisture: 35, agro.OrganicMatter: 3.5,
}

func observation() weather.Observation {
	return weather.Observation{
		Temperature:   22,
		Humidity:      55,
		Pressure:      1013,
		WindSpeed:     3,
		Condition:     weather.ConditionClear,
		Description:   "clear sky",
		ConditionCode: 800,
		FetchedAt:     t0,
	}
}

type fixture struct {
	svc     *Service
	cache   *SnapshotCache
	clock   *time.Time
	weather *mockWeather
	series  *flatSeries
}

func newFixture(t *testing.T, p Predictor) *fixture {
	t.Helper()
	now := t0
	clock := func() time.Time { return now }
	c := cache.New[agro.Domain, agro.Snapshot](cache.WithClock(clock))
	w := &mockWeather{}
	s := &flatSeries{soil: deficientSoil}
	svc := New(c, w, s, p, insight.New(0, nil), Config{WeatherTTL: 10 * time.Minute, SoilTTL: 5 * time.Minute}, WithClock(clock))
	return &fixture{svc: svc, cache: c, clock: &now, weather: w, series: s}
}

func TestSoilSnapshot_EndToEndWithInferenceService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/soil", r.URL.Path)
		var req struct {
			Inputs []float64 `json:"inputs"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Inputs, 96)
		_, _ = w.Write([]byte(`{"predictions":[7.2,45,23,15],"confidence":0.88,"status":"success"}`))
	}))
	t.Cleanup(srv.Close)

	gw := prediction.New(srv.Client(), prediction.Config{
		BaseURL:     srv.URL,
		WeatherPath: "/predict/weather",
		SoilPath:    "/predict/soil",
	}, prediction.WithRandSource(rand.NewPCG(3, 4)))
	f := newFixture(t, gw)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	snap := f.svc.SoilSnapshot(context.Background())

	assert.False(t, snap.Degraded)
	assert.Equal(t, agro.DomainSoil, snap.Domain)
	assert.Equal(t, 0.88, snap.Prediction.Confidence)
	assert.Equal(t, agro.TrendAscending, snap.Prediction.Trend[agro.Potassium])
	assert.Equal(t, agro.TrendStable, snap.Prediction.Trend[agro.PH])
	assert.Equal(t, agro.LevelLow, snap.Levels[agro.Potassium])
	assert.Equal(t, agro.LevelOptimal, snap.Levels[agro.PH])
	assert.Equal(t, []string{"Potassium deficiency detected (13 mg/kg)."}, snap.Alerts)
	assert.Equal(t, []string{"Apply potash (muriate or sulfate of potash)."}, snap.Recommendations)
	assert.Equal(t, agro.Values{agro.Temperature: 22, agro.Humidity: 55}, f.series.gotWeather)
}

func TestSnapshot_CacheHitSkipsRebuild(t *testing.T) {
	p := &countingPredictor{}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	first := f.svc.SoilSnapshot(context.Background())
	*f.clock = f.clock.Add(4 * time.Minute)
	second := f.svc.SoilSnapshot(context.Background())

	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt, "cached snapshot is returned unchanged")

	st := f.svc.CacheStats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestSnapshot_ExpiresAfterDomainTTL(t *testing.T) {
	p := &countingPredictor{}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	f.svc.SoilSnapshot(context.Background())
	f.svc.WeatherSnapshot(context.Background())

	*f.clock = f.clock.Add(6 * time.Minute)
	f.svc.SoilSnapshot(context.Background())
	f.svc.WeatherSnapshot(context.Background())

	// soil (5m) rebuilt, weather (10m) still cached
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestWeatherSnapshot_Fields(t *testing.T) {
	f := newFixture(t, &countingPredictor{})
	obs := observation()
	obs.Temperature = 1.5
	obs.WindSpeed = 12
	f.weather.On("Current", mock.Anything).Return(obs, nil)

	snap := f.svc.WeatherSnapshot(context.Background())

	require.NotNil(t, snap.Conditions)
	assert.Equal(t, "clear sky", snap.Conditions.Description)
	assert.Equal(t, 800, snap.Conditions.ConditionCode)
	assert.Equal(t, 1013.0, snap.Conditions.Pressure)
	assert.Equal(t, agro.LevelLow, snap.Levels[agro.Temperature])
	assert.Equal(t, []string{"Frost risk: temperature is 1.5°C.", "Strong wind (12.0 m/s)."}, snap.Alerts)
	require.Len(t, snap.Forecast, 1)
	assert.Equal(t, time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC), snap.Forecast[0].Time)
	assert.Equal(t, agro.TrendStable, snap.Prediction.Trend[agro.Humidity])
}

func TestSnapshot_DegradedPredictionIsCached(t *testing.T) {
	p := &countingPredictor{degraded: true}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	snap := f.svc.SoilSnapshot(context.Background())

	assert.True(t, snap.Degraded)
	assert.Equal(t, agro.SourceFallback, snap.Prediction.Source)
	assert.Equal(t, prediction.FallbackConfidence, snap.Prediction.Confidence)
	assert.Len(t, snap.Prediction.Trend, 4)
	assert.True(t, f.cache.Has(agro.DomainSoil))
}

func TestWeatherSnapshot_SourceFailureReturnsUncachedFallback(t *testing.T) {
	p := &countingPredictor{}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(weather.Observation{}, errors.New("all providers down"))

	snap := f.svc.WeatherSnapshot(context.Background())

	assert.True(t, snap.Degraded)
	require.NotEmpty(t, snap.Alerts)
	assert.Contains(t, snap.Alerts[0], "service degraded")
	assert.NotEmpty(t, snap.Recommendations)
	assert.Equal(t, agro.Defaults(agro.DomainWeather), snap.Current)
	require.NotNil(t, snap.Conditions)
	assert.Equal(t, "unknown", snap.Conditions.Condition)
	assert.Len(t, snap.Forecast, DefaultHorizon)
	assert.False(t, f.cache.Has(agro.DomainWeather))
	assert.Equal(t, int32(0), p.calls.Load())

	f.svc.WeatherSnapshot(context.Background())
	f.weather.AssertNumberOfCalls(t, "Current", 2)
}

func TestSoilSnapshot_WeatherFailureUsesDefaultInputs(t *testing.T) {
	f := newFixture(t, &countingPredictor{})
	f.weather.On("Current", mock.Anything).Return(weather.Observation{}, errors.New("timeout"))

	snap := f.svc.SoilSnapshot(context.Background())

	assert.False(t, snap.Degraded)
	assert.Equal(t, agro.Defaults(agro.DomainWeather), f.series.gotWeather)
	assert.True(t, f.cache.Has(agro.DomainSoil))
}

func TestSnapshot_PanicBecomesFallback(t *testing.T) {
	f := newFixture(t, &countingPredictor{})
	f.series.panics = true
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	var snap agro.Snapshot
	require.NotPanics(t, func() { snap = f.svc.SoilSnapshot(context.Background()) })

	assert.True(t, snap.Degraded)
	assert.Equal(t, []string{DegradedAlert}, snap.Alerts)
	assert.Equal(t, agro.SourceFallback, snap.Prediction.Source)
	assert.Equal(t, agro.LevelOptimal, snap.Levels[agro.PH])
	assert.False(t, f.cache.Has(agro.DomainSoil))
}

func TestSnapshot_ConcurrentMissesShareOneBuild(t *testing.T) {
	p := &countingPredictor{release: make(chan struct{})}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	var wg sync.WaitGroup
	results := make([]agro.Snapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.SoilSnapshot(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0].GeneratedAt, r.GeneratedAt)
	}
}

func TestInvalidate(t *testing.T) {
	p := &countingPredictor{}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	f.svc.SoilSnapshot(context.Background())
	f.svc.WeatherSnapshot(context.Background())

	f.svc.Invalidate(agro.DomainSoil)
	assert.False(t, f.cache.Has(agro.DomainSoil))
	assert.True(t, f.cache.Has(agro.DomainWeather))

	f.svc.Invalidate()
	assert.Equal(t, 0, f.svc.CacheStats().Total)
}

func jsonKeys(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestFallbackSnapshot_MatchesBuiltShape(t *testing.T) {
	for _, d := range []agro.Domain{agro.DomainWeather, agro.DomainSoil} {
		t.Run(string(d), func(t *testing.T) {
			ok := newFixture(t, &countingPredictor{})
			ok.weather.On("Current", mock.Anything).Return(observation(), nil)
			built := ok.svc.Snapshot(context.Background(), d)
			require.False(t, built.Degraded)

			failed := newFixture(t, &countingPredictor{})
			if d == agro.DomainWeather {
				failed.weather.On("Current", mock.Anything).Return(weather.Observation{}, errors.New("down"))
			} else {
				failed.weather.On("Current", mock.Anything).Return(observation(), nil)
				failed.series.panics = true
			}
			fallback := failed.svc.Snapshot(context.Background(), d)
			require.True(t, fallback.Degraded)
			require.Equal(t, []string{DegradedAlert}, fallback.Alerts)

			b, f := jsonKeys(t, built), jsonKeys(t, fallback)
			assert.ElementsMatch(t, keysOf(b), keysOf(f))
			for _, field := range []string{"current", "prediction", "levels"} {
				assert.ElementsMatch(t, keysOf(b[field].(map[string]any)), keysOf(f[field].(map[string]any)), field)
			}
			assert.ElementsMatch(t,
				keysOf(b["prediction"].(map[string]any)["trend"].(map[string]any)),
				keysOf(f["prediction"].(map[string]any)["trend"].(map[string]any)))
		})
	}
}

func TestInvalidate_DuringBuildDropsStaleResult(t *testing.T) {
	p := &countingPredictor{release: make(chan struct{})}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.svc.SoilSnapshot(context.Background())
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.svc.Invalidate(agro.DomainSoil, agro.DomainWeather)
	close(p.release)
	wg.Wait()

	_, cached := f.cache.Peek(agro.DomainSoil)
	assert.False(t, cached, "snapshot built before the invalidation must not be cached")

	f.svc.SoilSnapshot(context.Background())
	assert.Equal(t, int32(2), p.calls.Load())
	_, cached = f.cache.Peek(agro.DomainSoil)
	assert.True(t, cached)
}

func TestInvalidate_NewCallersDoNotJoinStaleBuild(t *testing.T) {
	p := &countingPredictor{release: make(chan struct{})}
	f := newFixture(t, p)
	f.weather.On("Current", mock.Anything).Return(observation(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.svc.WeatherSnapshot(context.Background())
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.svc.Invalidate()

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.svc.WeatherSnapshot(context.Background())
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	close(p.release)
	wg.Wait()

	_, cached := f.cache.Peek(agro.DomainWeather)
	assert.True(t, cached, "the build started after the invalidation is cached")
}
