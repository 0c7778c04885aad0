// Package prediction calls the external sequence-prediction service and degrades
// to a local heuristic forecast whenever that call fails.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/agro-forecast/internal/agro"
	"github.com/i474232898/agro-forecast/internal/metrics"
)

const (
	// DefaultTimeout bounds a single inference call.
	DefaultTimeout = 15 * time.Second
	// FallbackConfidence marks predictions computed locally.
	FallbackConfidence = 0.65
	// DefaultHorizon is the number of hourly steps kept for the forecast list.
	DefaultHorizon = 6

	// assumedConfidence is used when the service omits a confidence score.
	assumedConfidence = 0.8
	maxResponseBytes  = 1 << 20
)

var (
	// ErrUpstreamUnavailable covers network errors, timeouts, non-2xx replies and an open breaker.
	ErrUpstreamUnavailable = errors.New("inference service unavailable")
	// ErrMalformedResponse covers undecodable payloads and missing or short prediction vectors.
	ErrMalformedResponse = errors.New("malformed inference response")
)

var validate = validator.New()

// Config describes the inference endpoint.
type Config struct {
	BaseURL     string
	WeatherPath string
	SoilPath    string
	Token       string
	Timeout     time.Duration
	Horizon     int
}

// Gateway is safe for concurrent use.
type Gateway struct {
	client   *http.Client
	baseURL  string
	token    string
	timeout  time.Duration
	horizon  int
	paths    map[agro.Domain]string
	breakers map[agro.Domain]*gobreaker.CircuitBreaker
	log      zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithRandSource replaces the source used for fallback perturbations.
func WithRandSource(src rand.Source) Option {
	return func(g *Gateway) { g.rng = rand.New(src) }
}

// New creates a Gateway. client must not be nil; its own Timeout, if any, applies
// on top of cfg.Timeout.
func New(client *http.Client, cfg Config, opts ...Option) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}

	g := &Gateway{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		horizon: cfg.Horizon,
		paths: map[agro.Domain]string{
			agro.DomainWeather: cfg.WeatherPath,
			agro.DomainSoil:    cfg.SoilPath,
		},
		breakers: map[agro.Domain]*gobreaker.CircuitBreaker{},
		log:      zerolog.Nop(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for d := range g.paths {
		g.breakers[d] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "inference-" + string(d),
			MaxRequests: 1,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
		})
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Predict always returns a usable prediction. A degraded result is recognizable
// by its fallback source and lower confidence.
func (g *Gateway) Predict(ctx context.Context, d agro.Domain, s agro.Series) agro.Prediction {
	return g.Forecast(ctx, d, s).Value
}

// Forecast is Predict with the degradation reason kept for the caller.
func (g *Gateway) Forecast(ctx context.Context, d agro.Domain, s agro.Series) agro.Outcome[agro.Prediction] {
	vec := PrepareVector(d, s)

	start := time.Now()
	pred, err := g.call(ctx, d, vec)
	elapsed := time.Since(start)

	if err != nil {
		metrics.ObserveInference(string(d), "fallback", elapsed.Seconds())
		g.log.Warn().Err(err).Str("domain", string(d)).Dur("elapsed", elapsed).
			Msg("inference failed; using local fallback")
		return agro.Degraded(g.fallback(d, vec), err)
	}

	metrics.ObserveInference(string(d), "ok", elapsed.Seconds())
	return agro.Ok(pred)
}

type inferenceRequest struct {
	Inputs     []float64           `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	ReturnConfidence bool `json:"return_confidence"`
}

type inferenceResponse struct {
	Predictions []float64 `json:"predictions" validate:"required,min=1"`
	Confidence  *float64  `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	Status      string    `json:"status"`
}

func (g *Gateway) call(ctx context.Context, d agro.Domain, vec []float64) (agro.Prediction, error) {
	path, ok := g.paths[d]
	if !ok || g.baseURL == "" {
		return agro.Prediction{}, fmt.Errorf("%w: no endpoint configured for %q", ErrUpstreamUnavailable, d)
	}

	body, err := json.Marshal(inferenceRequest{
		Inputs:     vec,
		Parameters: inferenceParameters{ReturnConfidence: true},
	})
	if err != nil {
		return agro.Prediction{}, fmt.Errorf("encode inference request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breakers[d].Execute(func() (interface{}, error) {
		return g.do(ctx, g.baseURL+path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return agro.Prediction{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return agro.Prediction{}, err
	}

	payload, ok := result.(*inferenceResponse)
	if !ok {
		return agro.Prediction{}, fmt.Errorf("%w: unexpected result type from circuit breaker", ErrMalformedResponse)
	}
	return g.toPrediction(d, payload)
}

func (g *Gateway) do(ctx context.Context, url string, body []byte) (*inferenceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var payload inferenceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	switch strings.ToLower(payload.Status) {
	case "error", "failed", "failure":
		return nil, fmt.Errorf("%w: service reported status %q", ErrUpstreamUnavailable, payload.Status)
	}
	for _, x := range payload.Predictions {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite prediction", ErrMalformedResponse)
		}
	}
	return &payload, nil
}

// toPrediction reads the flat prediction vector as consecutive steps of the
// domain's tracked variables. A trailing partial step is ignored.
func (g *Gateway) toPrediction(d agro.Domain, p *inferenceResponse) (agro.Prediction, error) {
	vars := d.Tracked()
	if len(vars) == 0 || len(p.Predictions) < len(vars) {
		return agro.Prediction{}, fmt.Errorf("%w: got %d predictions, need %d",
			ErrMalformedResponse, len(p.Predictions), len(vars))
	}

	n := min(len(p.Predictions)/len(vars), g.horizon)
	steps := make([]agro.Values, 0, n)
	for i := range n {
		step := make(agro.Values, len(vars))
		for j, v := range vars {
			step[v] = agro.Clamp(v, p.Predictions[i*len(vars)+j])
		}
		steps = append(steps, step)
	}

	conf := assumedConfidence
	if p.Confidence != nil {
		conf = *p.Confidence
	}

	return agro.Prediction{
		Values:     steps[0],
		Steps:      steps,
		Confidence: conf,
		Source:     agro.SourceModel,
	}, nil
}

// fallback walks forward from the newest step of the prepared vector, adding a
// bounded uniform perturbation per variable at each step.
func (g *Gateway) fallback(d agro.Domain, vec []float64) agro.Prediction {
	vars := d.Tracked()
	prev := lastStep(d, vec)

	g.mu.Lock()
	defer g.mu.Unlock()

	steps := make([]agro.Values, 0, g.horizon)
	for range g.horizon {
		next := make(agro.Values, len(vars))
		for _, v := range vars {
			spread := agro.SpecOf(v).Spread
			next[v] = agro.Clamp(v, prev[v]+(g.rng.Float64()*2-1)*spread)
		}
		steps = append(steps, next)
		prev = next
	}

	return agro.Prediction{
		Values:     steps[0],
		Steps:      steps,
		Confidence: FallbackConfidence,
		Source:     agro.SourceFallback,
	}
}
