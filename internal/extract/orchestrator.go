package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/sink"
)

// Observer receives counts from each orchestration run.
type Observer interface {
	CardsLocated(strategy string, n int)
	CardFailed()
	RecordsExtracted(kept, dropped int)
	BatchPersisted(saved, skipped int)
}

// cardExtractor turns one card into at most one record.
type cardExtractor interface {
	Extract(card *goquery.Selection, base *url.URL, sourceURL string) (models.Record, bool)
}

type nopObserver struct{}

func (nopObserver) CardsLocated(string, int)  {}
func (nopObserver) CardFailed()               {}
func (nopObserver) RecordsExtracted(int, int) {}
func (nopObserver) BatchPersisted(int, int)   {}

// Orchestrator runs locate, extract and persist for one snapshot.
type Orchestrator struct {
	locator   *Locator
	extractor cardExtractor
	sink      sink.Sink
	observer  Observer
	workers   int
	logger    *slog.Logger
}

// NewOrchestrator wires the engine to a sink.
func NewOrchestrator(cascade *Cascade, s sink.Sink, logger *slog.Logger) (*Orchestrator, error) {
	if cascade == nil {
		cascade = DefaultCascade()
	}
	locator, err := NewLocator(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to build locator: %w", err)
	}
	extractor, err := NewFieldExtractor(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to build field extractor: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		locator:   locator,
		extractor: extractor,
		sink:      s,
		observer:  nopObserver{},
		workers:   1,
		logger:    logger.With("component", "extract"),
	}, nil
}

// SetWorkers bounds how many cards are extracted concurrently. Output order
// does not depend on it.
func (o *Orchestrator) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	o.workers = n
}

// SetObserver attaches a metrics observer.
func (o *Orchestrator) SetObserver(obs Observer) {
	if obs == nil {
		obs = nopObserver{}
	}
	o.observer = obs
}

// Run extracts every product card from the snapshot and hands the records
// to the sink in one batch. Total counts records handed to the sink.
func (o *Orchestrator) Run(ctx context.Context, snap *models.Snapshot, sourceURL string) (models.BatchResult, error) {
	base, err := BaseOrigin(sourceURL)
	if err != nil {
		return models.BatchResult{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	cards, strategy := o.locator.Locate(doc)
	o.observer.CardsLocated(strategy, len(cards))
	o.logger.Debug("Located product cards", "strategy", strategy, "cards", len(cards), "source_url", sourceURL)

	records := o.extractAll(cards, base, sourceURL)
	o.observer.RecordsExtracted(len(records), len(cards)-len(records))

	if len(records) == 0 {
		o.logger.Info("No product records extracted", "source_url", sourceURL, "cards", len(cards))
		return models.BatchResult{}, nil
	}

	res, err := o.sink.Persist(ctx, records)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("failed to persist %d records: %w", len(records), err)
	}
	o.observer.BatchPersisted(res.Saved, res.Skipped)

	o.logger.Info("Batch persisted",
		"source_url", sourceURL,
		"saved", res.Saved,
		"skipped", res.Skipped,
		"total", len(records),
	)

	return models.BatchResult{Saved: res.Saved, Skipped: res.Skipped, Total: len(records)}, nil
}

// extractAll fills one slot per card so the result keeps card order
// whatever the worker count.
func (o *Orchestrator) extractAll(cards []*goquery.Selection, base *url.URL, sourceURL string) []models.Record {
	type slot struct {
		rec models.Record
		ok  bool
	}
	slots := make([]slot, len(cards))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, card := range cards {
		i, card := i, card
		g.Go(func() error {
			rec, ok, err := o.extractCard(card, base, sourceURL)
			if err != nil {
				o.observer.CardFailed()
				o.logger.Debug("Skipping card", "index", i, "error", err)
				return nil
			}
			slots[i] = slot{rec: rec, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]models.Record, 0, len(cards))
	for _, s := range slots {
		if s.ok {
			records = append(records, s.rec)
		}
	}
	return records
}

// extractCard isolates a fault in one card from the rest of the batch.
func (o *Orchestrator) extractCard(card *goquery.Selection, base *url.URL, sourceURL string) (rec models.Record, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, ok, err = models.Record{}, false, fmt.Errorf("card extraction panicked: %v", r)
		}
	}()

	rec, ok = o.extractor.Extract(card, base, sourceURL)
	return rec, ok, nil
}
