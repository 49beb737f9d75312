package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductScraped is staged for every newly stored product
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
)

// ProductScrapedPayload is the body of a PRODUCT_SCRAPED event
type ProductScrapedPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	ProductID  string    `json:"product_id"`
	Name       string    `json:"name"`
	Price      string    `json:"price,omitempty"`
	Rating     string    `json:"rating,omitempty"`
	Image      string    `json:"image,omitempty"`
	ProductURL string    `json:"productUrl"`
	SourceURL  string    `json:"sourceUrl"`
	Source     string    `json:"source"`
}

// OutboxWriter stages events inside an open transaction
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stages product events in the transactional outbox
type Publisher struct {
	outbox OutboxWriter
	logger *slog.Logger
}

func NewPublisher(outbox OutboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
	}
}

// StageProductScraped writes a PRODUCT_SCRAPED event in tx, so the event
// exists exactly when the product row commits.
func (p *Publisher) StageProductScraped(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	payload := &ProductScrapedPayload{
		EventID:    uuid.New().String(),
		EventType:  string(EventTypeProductScraped),
		Timestamp:  time.Now().UTC(),
		ProductID:  product.ID,
		Name:       product.Name,
		Price:      product.Price,
		Rating:     product.Rating,
		Image:      product.Image,
		ProductURL: product.ProductURL,
		SourceURL:  product.SourceURL,
		Source:     database.EventSource,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "product",
		AggregateID:   product.ProductURL,
		EventType:     string(EventTypeProductScraped),
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to stage %s event: %w", EventTypeProductScraped, err)
	}

	p.logger.Debug("event staged in outbox",
		"event_id", payload.EventID,
		"product_url", product.ProductURL)

	return nil
}
