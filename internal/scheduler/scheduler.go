package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/agro-forecast/internal/agro"
	"github.com/i474232898/agro-forecast/internal/weather"
)

const (
	defaultInterval = 15 * time.Minute
	jobTimeout      = 30 * time.Second
)

// Poller fetches and stores a new weather observation.
type Poller interface {
	FetchAndStore(ctx context.Context) (weather.Observation, error)
}

// Invalidator drops cached snapshots whose inputs changed.
type Invalidator interface {
	Invalidate(domains ...agro.Domain)
}

// Scheduler periodically polls the weather source and invalidates the
// snapshots that depend on it.
type Scheduler struct {
	scheduler   *gocron.Scheduler
	poller      Poller
	invalidator Invalidator
	interval    time.Duration
	log         zerolog.Logger
}

// New creates a new Scheduler.
func New(interval time.Duration, poller Poller, invalidator Invalidator, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:   s,
		poller:      poller,
		invalidator: invalidator,
		interval:    interval,
		log:         log,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first poll runs immediately.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.Poll); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// Poll runs one fetch and, on success, invalidates the weather and soil snapshots.
func (s *Scheduler) Poll() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	obs, err := s.poller.FetchAndStore(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("scheduler: weather poll failed")
		return
	}
	s.invalidator.Invalidate(agro.DomainWeather, agro.DomainSoil)
	s.log.Info().
		Time("observed_at", obs.Timestamp).
		Float64("temperature", obs.Temperature).
		Msg("scheduler: weather poll completed")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
