// Package orchestrator composes per-domain snapshots from the weather source,
// the series generator, the prediction gateway and the insight rules, serving
// them through the snapshot cache.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/agro-forecast/internal/agro"
	"github.com/i474232898/agro-forecast/internal/cache"
	"github.com/i474232898/agro-forecast/internal/insight"
	"github.com/i474232898/agro-forecast/internal/metrics"
	"github.com/i474232898/agro-forecast/internal/weather"
)

// DegradedAlert is the alert carried by every fallback snapshot.
const DegradedAlert = "Prediction service degraded: showing safe default values."

const degradedRecommendation = "Verify sensor and weather connectivity; readings will refresh automatically."

// Default snapshot lifetimes.
const (
	DefaultWeatherTTL = 10 * time.Minute
	DefaultSoilTTL    = 5 * time.Minute
)

// DefaultHorizon is the length of the fallback forecast list.
const DefaultHorizon = 6

// WeatherSource provides the current observation for the configured field.
type WeatherSource interface {
	Current(ctx context.Context) (weather.Observation, error)
}

// SeriesSource produces current soil readings and 24-point input windows.
type SeriesSource interface {
	WeatherHistory(current agro.Values, now time.Time) agro.Series
	SoilHistory(current, weather agro.Values, now time.Time) agro.Series
	CurrentSoil(weather agro.Values, now time.Time) agro.Values
}

// Predictor forecasts the tracked variables of a domain. It never fails;
// a degraded outcome still carries a usable prediction.
type Predictor interface {
	Forecast(ctx context.Context, d agro.Domain, s agro.Series) agro.Outcome[agro.Prediction]
}

// SnapshotCache is the expiring cache the service reads through.
type SnapshotCache = cache.Store[agro.Domain, agro.Snapshot]

// Config holds per-domain snapshot lifetimes and the forecast horizon.
// Zero values fall back to the package defaults.
type Config struct {
	WeatherTTL time.Duration
	SoilTTL    time.Duration
	Horizon    int
}

// Service serves weather and soil snapshots through the snapshot cache.
// It is safe for concurrent use.
type Service struct {
	cache     *SnapshotCache
	weather   WeatherSource
	series    SeriesSource
	predictor Predictor
	analyzer  *insight.Analyzer
	ttl       map[agro.Domain]time.Duration
	horizon   int

	builds singleflight.Group

	// generation is bumped by Invalidate; a build only caches its result if
	// the generation it started under is still current.
	mu         sync.Mutex
	generation map[agro.Domain]uint64

	log zerolog.Logger
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service reading through c. A nil analyzer uses the default
// thresholds.
func New(c *SnapshotCache, ws WeatherSource, ss SeriesSource, p Predictor, a *insight.Analyzer, cfg Config, opts ...Option) *Service {
	if cfg.WeatherTTL <= 0 {
		cfg.WeatherTTL = DefaultWeatherTTL
	}
	if cfg.SoilTTL <= 0 {
		cfg.SoilTTL = DefaultSoilTTL
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if a == nil {
		a = insight.New(0, nil)
	}
	s := &Service{
		cache:     c,
		weather:   ws,
		series:    ss,
		predictor: p,
		analyzer:  a,
		ttl: map[agro.Domain]time.Duration{
			agro.DomainWeather: cfg.WeatherTTL,
			agro.DomainSoil:    cfg.SoilTTL,
		},
		horizon:    cfg.Horizon,
		generation: map[agro.Domain]uint64{},
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WeatherSnapshot returns the weather snapshot. It always returns a snapshot.
func (s *Service) WeatherSnapshot(ctx context.Context) agro.Snapshot {
	return s.Snapshot(ctx, agro.DomainWeather)
}

// SoilSnapshot returns the soil snapshot. It always returns a snapshot.
func (s *Service) SoilSnapshot(ctx context.Context) agro.Snapshot {
	return s.Snapshot(ctx, agro.DomainSoil)
}

// Snapshot serves d from the cache, building and caching it on a miss.
// Concurrent misses for one domain share a single build.
func (s *Service) Snapshot(ctx context.Context, d agro.Domain) agro.Snapshot {
	if snap, ok := s.cache.Get(d); ok {
		metrics.IncCacheHit(string(d))
		return snap
	}
	metrics.IncCacheMiss(string(d))

	v, _, _ := s.builds.Do(string(d), func() (interface{}, error) {
		// a build that finished between the miss and Do already cached it
		if snap, ok := s.cache.Peek(d); ok {
			return snap, nil
		}
		gen := s.currentGeneration(d)
		snap, cacheable := s.safeBuild(context.WithoutCancel(ctx), d)
		if cacheable {
			s.store(d, snap, gen)
		}
		return snap, nil
	})
	return v.(agro.Snapshot)
}

func (s *Service) currentGeneration(d agro.Domain) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation[d]
}

// store caches snap unless d was invalidated after the build started.
func (s *Service) store(d agro.Domain, snap agro.Snapshot, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation[d] != gen {
		s.log.Debug().Str("domain", string(d)).Msg("dropping snapshot built before invalidation")
		return
	}
	s.cache.Set(d, snap, s.ttl[d])
}

// Invalidate drops the cached snapshots of the given domains, or all of them
// when none are given. Builds already in flight for those domains still answer
// their callers but are not cached.
func (s *Service) Invalidate(domains ...agro.Domain) {
	all := len(domains) == 0
	if all {
		domains = []agro.Domain{agro.DomainWeather, agro.DomainSoil}
	}

	s.mu.Lock()
	for _, d := range domains {
		s.generation[d]++
		s.builds.Forget(string(d))
	}
	if all {
		s.cache.Clear()
	} else {
		for _, d := range domains {
			s.cache.Delete(d)
		}
	}
	s.mu.Unlock()

	if all {
		s.log.Info().Msg("snapshot cache cleared")
		return
	}
	s.log.Debug().Interface("domains", domains).Msg("snapshots invalidated")
}

// CacheStats reports the snapshot cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// safeBuild runs the build path and converts any error or panic into the
// fallback snapshot, which is never cached.
func (s *Service) safeBuild(ctx context.Context, d agro.Domain) (snap agro.Snapshot, cacheable bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("domain", string(d)).Interface("panic", r).Msg("snapshot build panicked")
			metrics.IncSnapshotBuild(string(d), "fallback")
			snap, cacheable = s.fallbackSnapshot(d), false
		}
	}()

	var err error
	switch d {
	case agro.DomainWeather:
		snap, err = s.buildWeather(ctx)
	case agro.DomainSoil:
		snap, err = s.buildSoil(ctx)
	default:
		err = fmt.Errorf("unknown domain %q", d)
	}
	if err != nil {
		s.log.Error().Err(err).Str("domain", string(d)).Msg("snapshot build failed")
		metrics.IncSnapshotBuild(string(d), "fallback")
		return s.fallbackSnapshot(d), false
	}

	outcome := "ok"
	if snap.Degraded {
		outcome = "degraded"
	}
	metrics.IncSnapshotBuild(string(d), outcome)
	return snap, true
}

func (s *Service) buildWeather(ctx context.Context) (agro.Snapshot, error) {
	obs, err := s.weather.Current(ctx)
	if err != nil {
		return agro.Snapshot{}, fmt.Errorf("current weather: %w", err)
	}
	now := s.now().UTC()

	current := obs.Values()
	history := s.series.WeatherHistory(current, now)
	pred := s.predict(ctx, agro.DomainWeather, current, history)

	levels := s.analyzer.Levels(current)
	cond := obs.Conditions()
	advice := insight.WeatherAdvice(current, levels, cond)

	return agro.Snapshot{
		Domain:          agro.DomainWeather,
		GeneratedAt:     now,
		Current:         current,
		Prediction:      pred.Value,
		Levels:          levels,
		Alerts:          advice.Alerts,
		Recommendations: advice.Recommendations,
		Conditions:      cond,
		Forecast:        forecastSteps(now, pred.Value.Steps),
		Degraded:        pred.IsDegraded(),
	}, nil
}

func (s *Service) buildSoil(ctx context.Context) (agro.Snapshot, error) {
	weatherValues := agro.Defaults(agro.DomainWeather)
	if obs, err := s.weather.Current(ctx); err != nil {
		s.log.Warn().Err(err).Msg("soil snapshot uses default weather inputs")
	} else {
		weatherValues = obs.Values()
	}
	now := s.now().UTC()

	current := s.series.CurrentSoil(weatherValues, now)
	history := s.series.SoilHistory(current, weatherValues, now)
	pred := s.predict(ctx, agro.DomainSoil, current, history)

	levels := s.analyzer.Levels(current)
	advice := insight.SoilAdvice(current, levels)

	return agro.Snapshot{
		Domain:          agro.DomainSoil,
		GeneratedAt:     now,
		Current:         current,
		Prediction:      pred.Value,
		Levels:          levels,
		Alerts:          advice.Alerts,
		Recommendations: advice.Recommendations,
		Degraded:        pred.IsDegraded(),
	}, nil
}

// predict calls the predictor and labels trends for both model and fallback results.
func (s *Service) predict(ctx context.Context, d agro.Domain, current agro.Values, history agro.Series) agro.Outcome[agro.Prediction] {
	out := s.predictor.Forecast(ctx, d, history)
	if out.IsDegraded() {
		s.log.Warn().Err(out.Reason).Str("domain", string(d)).Msg("using fallback prediction")
	}
	out.Value.Trend = s.analyzer.Trends(current, out.Value.Values)
	return out
}

func forecastSteps(now time.Time, steps []agro.Values) []agro.ForecastStep {
	out := make([]agro.ForecastStep, 0, len(steps))
	for i, v := range steps {
		out = append(out, agro.ForecastStep{
			Time:   now.Truncate(time.Hour).Add(time.Duration(i+1) * time.Hour),
			Values: v,
		})
	}
	return out
}

// fallbackSnapshot is the fully populated response used when the build path
// fails. It carries the same fields as a built snapshot of the domain.
func (s *Service) fallbackSnapshot(d agro.Domain) agro.Snapshot {
	now := s.now().UTC()
	current := agro.ReadingDefaults(d)
	predicted := agro.Defaults(d)
	trend := make(map[agro.Variable]agro.Trend, len(predicted))
	for v := range predicted {
		trend[v] = agro.TrendStable
	}
	steps := make([]agro.Values, s.horizon)
	for i := range steps {
		steps[i] = predicted.Clone()
	}

	snap := agro.Snapshot{
		Domain:      d,
		GeneratedAt: now,
		Current:     current,
		Prediction: agro.Prediction{
			Values:     predicted,
			Steps:      steps,
			Confidence: 0,
			Trend:      trend,
			Source:     agro.SourceFallback,
		},
		Levels:          s.analyzer.Levels(current),
		Alerts:          []string{DegradedAlert},
		Recommendations: []string{degradedRecommendation},
		Degraded:        true,
	}
	if d == agro.DomainWeather {
		snap.Conditions = &agro.Conditions{Condition: string(weather.ConditionUnknown)}
		snap.Forecast = forecastSteps(now, steps)
	}
	return snap
}
