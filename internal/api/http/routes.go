package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/i474232898/agro-forecast/internal/agro"
	"github.com/i474232898/agro-forecast/internal/cache"
	"github.com/i474232898/agro-forecast/internal/metrics"
	"github.com/i474232898/agro-forecast/internal/store"
	"github.com/i474232898/agro-forecast/internal/weather"
)

const serviceName = "agro-forecast"

var validate = validator.New()

// SnapshotService is the core consumed by the handlers.
type SnapshotService interface {
	WeatherSnapshot(ctx context.Context) agro.Snapshot
	SoilSnapshot(ctx context.Context) agro.Snapshot
	Invalidate(domains ...agro.Domain)
	CacheStats() cache.Stats
}

// HistorySource serves stored weather observations.
type HistorySource interface {
	Location() weather.Location
	History(from, to time.Time) ([]weather.Observation, error)
}

// NewApp builds the fiber app with the JSON error handler and the global middleware.
func NewApp(log zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// snapshot builds may wait for the inference timeout
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	app.Use(RequestID())
	app.Use(AccessLog(log))
	app.Use(recover.New())
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	// Centralized error response
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc SnapshotService, history HistorySource) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/weather", func(c *fiber.Ctx) error {
		return c.JSON(svc.WeatherSnapshot(c.UserContext()))
	})

	v1.Get("/soil", func(c *fiber.Ctx) error {
		return c.JSON(svc.SoilSnapshot(c.UserContext()))
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		observations, err := history.History(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"location":     history.Location(),
			"from":         req.From,
			"to":           req.To,
			"observations": observations,
		})
	})

	v1.Get("/cache/stats", func(c *fiber.Ctx) error {
		return c.JSON(svc.CacheStats())
	})

	v1.Delete("/cache", func(c *fiber.Ctx) error {
		svc.Invalidate()
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Delete("/cache/:domain", func(c *fiber.Ctx) error {
		req := domainParam{Domain: c.Params("domain")}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "domain must be weather or soil")
		}
		svc.Invalidate(agro.Domain(req.Domain))
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type domainParam struct {
	Domain string `validate:"required,oneof=weather soil"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
