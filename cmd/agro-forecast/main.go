package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/i474232898/agro-forecast/internal/agro"
	httpapi "github.com/i474232898/agro-forecast/internal/api/http"
	"github.com/i474232898/agro-forecast/internal/cache"
	"github.com/i474232898/agro-forecast/internal/config"
	"github.com/i474232898/agro-forecast/internal/insight"
	"github.com/i474232898/agro-forecast/internal/logger"
	"github.com/i474232898/agro-forecast/internal/metrics"
	"github.com/i474232898/agro-forecast/internal/orchestrator"
	"github.com/i474232898/agro-forecast/internal/prediction"
	"github.com/i474232898/agro-forecast/internal/scheduler"
	"github.com/i474232898/agro-forecast/internal/series"
	"github.com/i474232898/agro-forecast/internal/store"
	"github.com/i474232898/agro-forecast/internal/weather"
	"github.com/i474232898/agro-forecast/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.Build(logger.Config{}, os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.Build(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole}, os.Stdout)

	// Shared HTTP client for outbound weather provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// In-memory observation store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Providers, each a single attempt behind its own circuit breaker.
	provs := []weather.Provider{providers.NewOpenMeteoProvider(httpClient)}
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey))
	}

	field := weather.Location{Name: cfg.FieldName, Lat: cfg.FieldLat, Lon: cfg.FieldLon}
	weatherSvc := weather.NewService(memStore, provs, field,
		weather.WithFreshness(cfg.WeatherFreshness),
		weather.WithLogger(logger.Component(log, "weather")),
	)

	seed := cfg.SeriesSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	generator := series.NewSeeded(seed, series.Baseline{
		PH:            cfg.SoilBasePH,
		Nitrogen:      cfg.SoilBaseNitrogen,
		Phosphorus:    cfg.SoilBasePhosphorus,
		Potassium:     cfg.SoilBasePotassium,
		Moisture:      cfg.SoilBaseMoisture,
		OrganicMatter: cfg.SoilBaseOrganicMatter,
	})

	// The gateway bounds each call with its own timeout.
	gateway := prediction.New(&http.Client{}, prediction.Config{
		BaseURL:     cfg.InferenceBaseURL,
		WeatherPath: cfg.InferenceWeatherPath,
		SoilPath:    cfg.InferenceSoilPath,
		Token:       cfg.InferenceToken,
		Timeout:     cfg.InferenceTimeout,
		Horizon:     cfg.ForecastHorizon,
	}, prediction.WithLogger(logger.Component(log, "prediction")))

	snapshots := cache.New[agro.Domain, agro.Snapshot](cache.WithLogger(logger.Component(log, "cache")))
	if err := snapshots.StartJanitor(cfg.CacheSweepInterval); err != nil {
		log.Fatal().Err(err).Msg("failed to start cache janitor")
	}
	defer snapshots.Stop()
	metrics.RegisterCacheGauges(func() (int, int, int) {
		st := snapshots.Stats()
		return st.Total, st.Valid, st.Expired
	})

	orch := orchestrator.New(snapshots, weatherSvc, generator, gateway,
		insight.New(cfg.TrendThreshold, nil),
		orchestrator.Config{WeatherTTL: cfg.WeatherCacheTTL, SoilTTL: cfg.SoilCacheTTL, Horizon: cfg.ForecastHorizon},
		orchestrator.WithLogger(logger.Component(log, "orchestrator")),
	)

	// Scheduler that periodically polls the weather and invalidates dependent snapshots.
	sched := scheduler.New(cfg.WeatherPollInterval, weatherSvc, orch, logger.Component(log, "scheduler"))
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := httpapi.NewApp(logger.Component(log, "http"))
	httpapi.RegisterRoutes(app, orch, weatherSvc)

	go func() {
		log.Info().Str("port", cfg.Port).Str("field", field.Name).Int("providers", len(provs)).Msg("listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("stopped")
}
