// Package metrics provides Prometheus instrumentation for the classroom game.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockclass_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts trades refused before any mutation.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockclass_trade_rejections_total",
		Help: "Trades rejected by validation",
	}, []string{"side", "reason"})

	DayAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockclass_day_advances_total",
		Help: "Number of simulated days advanced",
	})

	// PriceUpdates counts price-update rounds by rule.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockclass_price_updates_total",
		Help: "Price update rounds applied to the market",
	}, []string{"rule"})

	CurrentDay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockclass_current_day",
		Help: "Current simulated day",
	})

	Students = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockclass_students",
		Help: "Number of registered students",
	})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockclass_persistence_failures_total",
		Help: "Snapshot writes that failed and were swallowed",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockclass_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockclass_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockclass_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by chi route
// pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
