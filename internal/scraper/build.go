package scraper

import (
	"fmt"
	"log/slog"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/metrics"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/sink"
)

// FromConfig launches the configured renderer and wires it to an
// orchestrator writing into store. The caller owns store; closing the
// service only closes the renderer.
func FromConfig(cfg *config.Config, store sink.Sink, collector *metrics.Collector, logger *slog.Logger) (*Service, error) {
	cascade, err := config.LoadCascade(cfg.Extract.CascadeFile)
	if err != nil {
		return nil, err
	}

	orch, err := extract.NewOrchestrator(cascade, store, logger)
	if err != nil {
		return nil, err
	}
	orch.SetWorkers(cfg.Extract.Workers)
	if collector != nil {
		orch.SetObserver(collector)
	}

	renderer, err := browser.Open(cfg.Browser.Renderer, cfg.BrowserOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start renderer: %w", err)
	}

	limiter := ratelimit.NewHostLimiter(ratelimit.Config{
		PerHost:   cfg.RateLimit.PerHost,
		Burst:     cfg.RateLimit.Burst,
		MaxJitter: cfg.RateLimit.MaxJitter,
	})

	return NewService(renderer, limiter, orch, collector, logger), nil
}
