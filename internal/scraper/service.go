package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/metrics"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
)

// Service renders one listing page and runs the extraction engine on it.
type Service struct {
	renderer     browser.Renderer
	limiter      ratelimit.RateLimiter
	orchestrator *extract.Orchestrator
	metrics      *metrics.Collector
	logger       *slog.Logger
}

// NewService wires a renderer to an orchestrator. limiter and collector may
// be nil.
func NewService(renderer browser.Renderer, limiter ratelimit.RateLimiter, orchestrator *extract.Orchestrator, collector *metrics.Collector, logger *slog.Logger) *Service {
	return &Service{
		renderer:     renderer,
		limiter:      limiter,
		orchestrator: orchestrator,
		metrics:      collector,
		logger:       logger.With("component", "scraper"),
	}
}

// Scrape renders rawURL and persists the products found on it. rawURL is
// also recorded as every record's source URL.
func (s *Service) Scrape(ctx context.Context, rawURL string) (models.BatchResult, error) {
	if _, err := extract.BaseOrigin(rawURL); err != nil {
		return models.BatchResult{}, err
	}

	if s.limiter != nil {
		start := time.Now()
		if err := s.limiter.Wait(ctx, rawURL); err != nil {
			return models.BatchResult{}, fmt.Errorf("rate limit wait: %w", err)
		}
		s.metrics.RateLimitWaited(time.Since(start))
	}

	start := time.Now()
	snap, err := s.renderer.Render(ctx, rawURL)
	s.metrics.RenderFinished(time.Since(start), err)
	if err != nil {
		if s.limiter != nil {
			s.limiter.RecordError(rawURL)
		}
		s.logger.Error("render failed", "url", rawURL, "error", err)
		return models.BatchResult{}, fmt.Errorf("failed to render %s: %w", rawURL, err)
	}
	if s.limiter != nil {
		s.limiter.RecordSuccess(rawURL)
	}

	res, err := s.orchestrator.Run(ctx, snap, rawURL)
	if err != nil {
		return models.BatchResult{}, err
	}

	s.logger.Info("scrape completed",
		"url", rawURL,
		"final_url", snap.FinalURL,
		"saved", res.Saved,
		"skipped", res.Skipped,
		"total", res.Total,
	)
	return res, nil
}

func (s *Service) Close() error {
	return s.renderer.Close()
}
