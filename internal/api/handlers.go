package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/metrics"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/sink"
)

// Scraper renders and extracts one listing page.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) (models.BatchResult, error)
}

// OutboxStats is satisfied by the outbox relay.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

const storeUnavailableMessage = "store not connected, check the sink configuration"

type Handlers struct {
	scraper Scraper
	store   sink.Store
	outbox  OutboxStats
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewHandlers builds the HTTP handlers. outbox and collector may be nil.
func NewHandlers(scraper Scraper, store sink.Store, outbox OutboxStats, collector *metrics.Collector, logger *slog.Logger) *Handlers {
	return &Handlers{
		scraper: scraper,
		store:   store,
		outbox:  outbox,
		metrics: collector,
		logger:  logger.With("component", "api"),
	}
}

// Routes registers every endpoint on a fresh router.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Index)
	r.Post("/scrape", h.Scrape)
	r.Get("/products", h.ListProducts)
	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	return r
}

func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"message": "Product Scraper API",
		"status":  "running",
	})
}

type ScrapeRequest struct {
	URL string `json:"url"`
}

type ScrapeResponse struct {
	Success bool `json:"success"`
	Saved   int  `json:"saved"`
	Skipped int  `json:"skipped"`
	Total   int  `json:"total"`
}

func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store not ready", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, storeUnavailableMessage)
		return
	}

	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	res, err := h.scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		h.logger.Error("scrape failed", "url", req.URL, "error", err)
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, ScrapeResponse{
		Success: true,
		Saved:   res.Saved,
		Skipped: res.Skipped,
		Total:   res.Total,
	})
}

type ProductsResponse struct {
	Success  bool             `json:"success"`
	Products []models.Product `json:"products"`
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store not ready", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, storeUnavailableMessage)
		return
	}

	limit := sink.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	products, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	if products == nil {
		products = []models.Product{}
	}

	h.respondJSON(w, http.StatusOK, ProductsResponse{Success: true, Products: products})
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		health["status"] = "error"
		health["store"] = err.Error()
		h.respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["store"] = "ok"

	if h.outbox != nil {
		pendingCount, _ := h.outbox.PendingCount(r.Context())
		deadLetterCount, _ := h.outbox.DeadLetterCount(r.Context())
		health["outbox"] = map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}

		if pendingCount > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, extract.ErrInvalidSourceURL):
		return http.StatusBadRequest
	case errors.Is(err, sink.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
