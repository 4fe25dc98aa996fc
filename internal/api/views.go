package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"marketviews/internal/aggregator"
	"marketviews/internal/history"
	"marketviews/internal/lifecycle"
	"marketviews/internal/models"
	"marketviews/internal/publisher"
)

// ViewReader exposes the feeds and last-known results of the lifecycle manager.
type ViewReader interface {
	Feeds() []string
	Spec(feed string) (lifecycle.FeedSpec, bool)
	Last(feed, aggregator string) (aggregator.Result, bool)
}

// ProductReader reads back the latest published product.
type ProductReader interface {
	Latest(ctx context.Context, code, contentType string) (publisher.Product, bool, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handlers serves the read-only query API.
type Handlers struct {
	views    ViewReader
	history  history.Provider
	products ProductReader
	logger   *slog.Logger
}

// NewHandlers creates the API handlers. history and products may be nil.
func NewHandlers(views ViewReader, hist history.Provider, products ProductReader, logger *slog.Logger) *Handlers {
	return &Handlers{
		views:    views,
		history:  hist,
		products: products,
		logger:   logger.With("component", "api"),
	}
}

type feedSummary struct {
	ID          string   `json:"id"`
	Symbol      string   `json:"symbol"`
	Aggregators []string `json:"aggregators"`
}

// ListFeeds handles GET /feeds.
func (h *Handlers) ListFeeds(w http.ResponseWriter, r *http.Request) {
	ids := h.views.Feeds()
	out := make([]feedSummary, 0, len(ids))
	for _, id := range ids {
		spec, ok := h.views.Spec(id)
		if !ok {
			continue
		}
		s := feedSummary{ID: spec.ID, Symbol: spec.Symbol, Aggregators: make([]string, 0, len(spec.Aggregators))}
		for _, def := range spec.Aggregators {
			s.Aggregators = append(s.Aggregators, def.Name)
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetView handles GET /feeds/{feed}/views/{name}.
func (h *Handlers) GetView(w http.ResponseWriter, r *http.Request) {
	feed := chi.URLParam(r, "feed")
	name := chi.URLParam(r, "name")

	if _, ok := h.views.Spec(feed); !ok {
		sendError(w, http.StatusNotFound, "feed_not_enabled", "Feed is not enabled")
		return
	}
	res, ok := h.views.Last(feed, name)
	if !ok {
		h.logger.Debug("view_not_ready", "feed", feed, "aggregator", name)
		sendError(w, http.StatusNotFound, "view_not_ready", "No result published yet")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBars handles GET /feeds/{feed}/bars/{timeframe}?depth=N&kind=trade.
func (h *Handlers) GetBars(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		sendError(w, http.StatusNotImplemented, "history_disabled", "No history provider configured")
		return
	}
	feed := chi.URLParam(r, "feed")
	tf := chi.URLParam(r, "timeframe")
	if r.URL.Query().Get("kind") == "trade" {
		tf = "trade:" + tf
	}

	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "invalid_parameter", "depth must be a non-negative integer")
			return
		}
		depth = n
	}

	bars, err := h.history.Bars(r.Context(), feed, tf, depth)
	if err != nil {
		h.logger.Error("history_read_failed", "feed", feed, "time_frame", tf, "error", err,
			"correlation_id", GetCorrelationID(r.Context()))
		sendError(w, http.StatusInternalServerError, "backend_unavailable", "Failed to read bar history")
		return
	}
	if bars == nil {
		bars = []models.OHLCBar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// GetProduct handles GET /products/{code}/{contentType}.
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		sendError(w, http.StatusNotImplemented, "products_disabled", "No product store configured")
		return
	}
	code := chi.URLParam(r, "code")
	ct := chi.URLParam(r, "contentType")

	p, found, err := h.products.Latest(r.Context(), code, ct)
	if err != nil {
		h.logger.Error("product_read_failed", "code", code, "content_type", ct, "error", err,
			"correlation_id", GetCorrelationID(r.Context()))
		sendError(w, http.StatusInternalServerError, "backend_unavailable", "Failed to read product")
		return
	}
	if !found {
		sendError(w, http.StatusNotFound, "product_not_found", "No product published yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends a JSON error response.
func sendError(w http.ResponseWriter, statusCode int, errorCode string, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}
