package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/agro-forecast/internal/metrics"
)

var (
	ErrNoProviders = errors.New("no weather providers configured")
	ErrNoReadings  = errors.New("no successful provider readings")
)

// DefaultFreshness is how long a stored observation is served without refetching.
const DefaultFreshness = 10 * time.Minute

// Service orchestrates fetching from multiple providers and persisting observations
// for a single fixed location.
type Service struct {
	store     Store
	providers []Provider
	loc       Location
	freshness time.Duration
	log       zerolog.Logger
	now       func() time.Time

	fetches singleflight.Group
}

type Option func(*Service)

func WithFreshness(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.freshness = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new Service.
func NewService(store Store, providers []Provider, loc Location, opts ...Option) *Service {
	s := &Service{
		store:     store,
		providers: providers,
		loc:       loc,
		freshness: DefaultFreshness,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Location returns the observed location.
func (s *Service) Location() Location {
	return s.loc
}

// FetchAndStore fetches data from all providers concurrently, aggregates the
// successful readings and stores the observation. Concurrent callers share one fetch.
func (s *Service) FetchAndStore(ctx context.Context) (Observation, error) {
	v, err, _ := s.fetches.Do(s.loc.Key(), func() (interface{}, error) {
		return s.fetchAndStore(ctx)
	})
	if err != nil {
		return Observation{}, err
	}
	return v.(Observation), nil
}

func (s *Service) fetchAndStore(ctx context.Context) (Observation, error) {
	if len(s.providers) == 0 {
		return Observation{}, ErrNoProviders
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []ProviderReading
		errs     []error
	)

	for _, p := range s.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			r, err := p.Fetch(ctx, s.loc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Partial success is still an observation.
				metrics.IncProviderFailure(p.Name())
				s.log.Warn().Err(err).Str("provider", p.Name()).Str("location", s.loc.Name).Msg("provider fetch failed")
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
				return
			}
			readings = append(readings, r)
		}(p)
	}

	wg.Wait()

	if len(readings) == 0 {
		return Observation{}, fmt.Errorf("%w: %w", ErrNoReadings, errors.Join(errs...))
	}

	now := s.now().UTC()
	obs := AggregateReadings(s.loc, readings, now)
	obs.FetchedAt = now
	s.store.SaveObservation(s.loc, obs)
	s.log.Debug().
		Int("providers", len(readings)).
		Float64("temperature", obs.Temperature).
		Float64("humidity", obs.Humidity).
		Msg("weather observation stored")
	return obs, nil
}

// Current returns the latest observation, refetching when it is older than the
// freshness window. A stale observation is returned when the refetch fails.
func (s *Service) Current(ctx context.Context) (Observation, error) {
	latest, err := s.store.GetLatest(s.loc)
	if err == nil && s.now().Sub(latest.FetchedAt) <= s.freshness {
		return latest, nil
	}

	obs, fetchErr := s.FetchAndStore(ctx)
	if fetchErr == nil {
		return obs, nil
	}
	if err == nil {
		s.log.Warn().Err(fetchErr).Time("observed_at", latest.Timestamp).Msg("serving stale weather observation")
		return latest, nil
	}
	return Observation{}, fetchErr
}

// History returns stored observations between from and to (inclusive).
func (s *Service) History(from, to time.Time) ([]Observation, error) {
	return s.store.GetRange(s.loc, from, to)
}
