package prediction

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/agro-forecast/internal/agro"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func soilSeries(n int, last agro.Values) agro.Series {
	s := make(agro.Series, n)
	for i := range s {
		s[i] = agro.Point{
			Time:   t0.Add(time.Duration(i-n+1) * time.Hour),
			Values: agro.Values{agro.PH: 6.9, agro.Nitrogen: 44, agro.Phosphorus: 24, agro.Potassium: 30},
		}
	}
	if n > 0 {
		s[n-1].Values = last
	}
	return s
}

func weatherSeries(n int) agro.Series {
	s := make(agro.Series, n)
	for i := range s {
		s[i] = agro.Point{
			Time:   t0.Add(time.Duration(i-n+1) * time.Hour),
			Values: agro.Values{agro.Temperature: 18 + float64(i)*0.1, agro.Humidity: 65},
		}
	}
	return s
}

func newTestGateway(t *testing.T, url string, timeout time.Duration) *Gateway {
	t.Helper()
	return New(&http.Client{}, Config{
		BaseURL:     url,
		WeatherPath: "/predict/weather",
		SoilPath:    "/predict/soil",
		Timeout:     timeout,
		Horizon:     3,
	}, WithRandSource(rand.NewPCG(1, 2)))
}

func TestPrepareVector_PadsShortSoilSeries(t *testing.T) {
	last := agro.Values{agro.PH: 7.2, agro.Nitrogen: 45, agro.Phosphorus: 23, agro.Potassium: 13}

	vec := PrepareVector(agro.DomainSoil, soilSeries(10, last))

	require.Len(t, vec, 96)
	for i := 0; i < 14*4; i += 4 {
		assert.Equal(t, []float64{7.0, 45, 25, 35}, vec[i:i+4], "padding at step %d", i/4)
	}
	assert.Equal(t, []float64{7.2, 45, 23, 13}, vec[92:])
}

func TestPrepareVector_TruncatesToMostRecent(t *testing.T) {
	vec := PrepareVector(agro.DomainWeather, weatherSeries(30))

	require.Len(t, vec, 48)
	assert.InDelta(t, 18+0.6, vec[0], 1e-9, "oldest six steps are dropped")
	assert.InDelta(t, 18+2.9, vec[46], 1e-9)
}

func TestPrepareVector_EmptyAndIrregularInputs(t *testing.T) {
	vec := PrepareVector(agro.DomainWeather, nil)
	require.Len(t, vec, 48)
	assert.Equal(t, []float64{20, 60}, vec[46:])

	s := agro.Series{{Time: t0, Values: agro.Values{agro.Temperature: 25}}}
	vec = PrepareVector(agro.DomainWeather, s)
	require.Len(t, vec, 48)
	assert.Equal(t, []float64{25, 60}, vec[46:], "missing humidity falls back to default")

	assert.Len(t, PrepareVector(agro.DomainSoil, soilSeries(24, agro.Values{})), 96)
}

func TestForecast_ModelResponse(t *testing.T) {
	var got inferenceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/soil", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []float64{7.2, 45, 23, 15, 7.1, 46, 23, 16},
			"confidence":  0.91,
			"status":      "success",
		})
	}))
	t.Cleanup(srv.Close)

	g := New(srv.Client(), Config{BaseURL: srv.URL + "/", SoilPath: "/predict/soil", Token: "secret"})
	last := agro.Values{agro.PH: 7.2, agro.Nitrogen: 45, agro.Phosphorus: 23, agro.Potassium: 13}

	out := g.Forecast(context.Background(), agro.DomainSoil, soilSeries(24, last))

	require.False(t, out.IsDegraded(), "reason: %v", out.Reason)
	assert.Len(t, got.Inputs, 96)
	assert.True(t, got.Parameters.ReturnConfidence)

	p := out.Value
	assert.Equal(t, agro.SourceModel, p.Source)
	assert.Equal(t, 0.91, p.Confidence)
	assert.Equal(t, agro.Values{agro.PH: 7.2, agro.Nitrogen: 45, agro.Phosphorus: 23, agro.Potassium: 15}, p.Values)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, 16.0, p.Steps[1][agro.Potassium])
}

func TestForecast_MissingConfidenceIsAssumed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[21.5,63.0]}`))
	}))
	t.Cleanup(srv.Close)

	out := newTestGateway(t, srv.URL, time.Second).Forecast(context.Background(), agro.DomainWeather, weatherSeries(24))

	require.False(t, out.IsDegraded())
	assert.Equal(t, assumedConfidence, out.Value.Confidence)
	assert.Len(t, out.Value.Steps, 1)
}

func TestForecast_FailuresFallBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantErr: ErrUpstreamUnavailable,
		},
		{
			name:    "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "missing predictions",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"confidence":0.9}`)) },
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "too short",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"predictions":[7.1]}`)) },
			wantErr: ErrMalformedResponse,
		},
		{
			name: "confidence out of range",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"predictions":[7,45,25,35],"confidence":1.7}`))
			},
			wantErr: ErrMalformedResponse,
		},
		{
			name: "status error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"predictions":[7,45,25,35],"status":"error"}`))
			},
			wantErr: ErrUpstreamUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			last := agro.Values{agro.PH: 7.2, agro.Nitrogen: 45, agro.Phosphorus: 23, agro.Potassium: 13}

			out := newTestGateway(t, srv.URL, time.Second).Forecast(context.Background(), agro.DomainSoil, soilSeries(24, last))

			require.True(t, out.IsDegraded())
			assert.ErrorIs(t, out.Reason, tt.wantErr)
			assertFallback(t, agro.DomainSoil, last, out.Value)
		})
	}
}

func TestPredict_TimeoutReturnsFallbackPromptly(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	g := newTestGateway(t, srv.URL, 50*time.Millisecond)
	start := time.Now()
	p := g.Predict(context.Background(), agro.DomainWeather, weatherSeries(24))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.LessOrEqual(t, p.Confidence, 0.7)
	assert.Equal(t, agro.SourceFallback, p.Source)
	assert.Len(t, p.Values, 2)
}

func TestPredict_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestGateway(t, url, time.Second).Predict(context.Background(), agro.DomainSoil, nil)

	assert.Equal(t, FallbackConfidence, p.Confidence)
	assert.Len(t, p.Values, 4)
	assert.Len(t, p.Steps, 3)
}

func TestPredict_NoBaseURLFallsBackWithoutNetwork(t *testing.T) {
	p := newTestGateway(t, "", time.Second).Predict(context.Background(), agro.DomainWeather, weatherSeries(5))
	assert.Equal(t, agro.SourceFallback, p.Source)
}

func TestForecast_OpenBreakerSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	g := newTestGateway(t, srv.URL, time.Second)
	for range 10 {
		out := g.Forecast(context.Background(), agro.DomainWeather, weatherSeries(24))
		require.True(t, out.IsDegraded())
	}

	// the default breaker trips after more than five consecutive failures
	assert.Equal(t, int32(6), calls.Load())
	out := g.Forecast(context.Background(), agro.DomainWeather, weatherSeries(24))
	assert.ErrorIs(t, out.Reason, ErrUpstreamUnavailable)

	// the soil route has its own breaker
	g.Forecast(context.Background(), agro.DomainSoil, nil)
	assert.Equal(t, int32(7), calls.Load())
}

func assertFallback(t *testing.T, d agro.Domain, last agro.Values, p agro.Prediction) {
	t.Helper()
	assert.Equal(t, agro.SourceFallback, p.Source)
	assert.LessOrEqual(t, p.Confidence, 0.7)
	require.Len(t, p.Values, len(d.Tracked()))
	for _, v := range d.Tracked() {
		spec := agro.SpecOf(v)
		assert.InDelta(t, last[v], p.Values[v], spec.Spread+1e-9, "first step of %s stays near last value", v)
		assert.GreaterOrEqual(t, p.Values[v], spec.Min)
		assert.LessOrEqual(t, p.Values[v], spec.Max)
	}
}
