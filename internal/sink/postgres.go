package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/events"
	"github.com/maltedev/listing-scraper/internal/models"
)

// PostgresStore writes each batch in one transaction. When a publisher is
// attached, a PRODUCT_SCRAPED event is staged for every new row in that
// same transaction.
type PostgresStore struct {
	db        *database.DB
	publisher *events.Publisher
	logger    *slog.Logger
}

func NewPostgresStore(db *database.DB, publisher *events.Publisher, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:        db,
		publisher: publisher,
		logger:    logger.With("component", "postgres_sink"),
	}
}

// DB exposes the pool so the outbox relay can share it.
func (s *PostgresStore) DB() *database.DB {
	return s.db
}

func (s *PostgresStore) Persist(ctx context.Context, records []models.Record) (Result, error) {
	batch, repeats := dedupeBatch(records)
	if len(batch) == 0 {
		return Result{Skipped: repeats}, nil
	}

	var inserted []*models.Product
	var skipped int
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		var err error
		inserted, skipped, err = s.db.InsertProductsWithTx(ctx, tx, batch)
		if err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		for _, p := range inserted {
			if err := s.publisher.StageProductScraped(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The transaction rolled back, nothing from this batch is stored.
		return Result{}, &PersistError{Err: classifyPgError(err)}
	}

	res := Result{Saved: len(inserted), Skipped: skipped + repeats}
	s.logger.Debug("batch committed", "saved", res.Saved, "skipped", res.Skipped)
	return res, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]models.Product, error) {
	products, err := s.db.ListProducts(ctx, ClampLimit(limit))
	if err != nil {
		return nil, classifyPgError(err)
	}
	return products, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.db.Close()
	return nil
}

// classifyPgError marks connection-level failures as ErrStoreUnavailable.
func classifyPgError(err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
