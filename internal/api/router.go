package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the query API, health and metrics endpoints.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer, timeout time.Duration, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(timeout))

	r.Get("/health", HealthCheckHandler(h.views.Feeds))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/feeds", func(r chi.Router) {
		r.Get("/", h.ListFeeds)
		r.Get("/{feed}/views/{name}", h.GetView)
		r.Get("/{feed}/bars/{timeframe}", h.GetBars)
	})
	r.Get("/products/{code}/{contentType}", h.GetProduct)

	return r
}
