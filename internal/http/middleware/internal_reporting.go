package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

// InternalReporting records this instance's own HTTP traffic as Prometheus
// series. Scrapes and health checks are not counted.
func InternalReporting(reg prometheus.Registerer) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webmetrics",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webmetrics",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
	reg.MustRegister(requests, duration)

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)

			path := string(ctx.Path())
			if path == "/metrics" || path == "/healthz" {
				return
			}
			status := ctx.Response.StatusCode()
			if status == fasthttp.StatusNotFound {
				path = "unmatched"
			}
			method := string(ctx.Method())
			requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
			duration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
		}
	}
}
