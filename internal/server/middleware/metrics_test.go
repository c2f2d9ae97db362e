package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRequest(e *echo.Echo, path string, rec http.ResponseWriter) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	e.ServeHTTP(rec, req)
}

func resetRegisteredMetrics(t *testing.T, conf MetricsConfig) {
	_, err := registerHTTPMetrics(conf)
	if err == nil {
		return
	}
	are, ok := err.(prometheus.AlreadyRegisteredError)
	require.True(t, ok, "unexpected register error: %v", err)
	are.ExistingCollector.(*prometheus.HistogramVec).Reset()
}

func TestMetricsMiddleware(t *testing.T) {
	resetRegisteredMetrics(t, DefaultMetricsConfig)
	e := echo.New()
	e.Use(Metrics())

	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/explicit_500", func(c echo.Context) error {
		return c.String(http.StatusInternalServerError, "boom")
	})
	e.GET("/handler_error", func(c echo.Context) error {
		return fmt.Errorf("handler failed")
	})

	rec := httptest.NewRecorder()
	for i := 0; i < 100; i++ {
		makeRequest(e, "/ok", rec)
		makeRequest(e, "/explicit_500", rec)
	}
	for i := 0; i < 96; i++ {
		makeRequest(e, "/handler_error", rec)
	}
	for i := 0; i < 69; i++ {
		makeRequest(e, "/no_such_route", rec)
	}
	req := httptest.NewRequest(http.MethodPost, "/no_such_route_either", nil)
	e.ServeHTTP(rec, req)

	makeRequest(e, "/metrics", rec)
	body := rec.Body.String()

	assert.Contains(t, body, `request_duration_seconds_count{code="200",method="GET",path="/ok"} 100`)
	assert.Contains(t, body, `request_duration_seconds_count{code="500",method="GET",path="/explicit_500"} 100`)
	assert.Contains(t, body, `request_duration_seconds_count{code="500",method="GET",path="/handler_error"} 96`)

	// every unmatched path lands on one label
	assert.Contains(t, body, `request_duration_seconds_count{code="404",method="GET",path="/not-found"} 69`)
	assert.Contains(t, body, `request_duration_seconds_count{code="404",method="POST",path="/not-found"} 1`)
}
