package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/models"
)

const insertProductQuery = `
	INSERT INTO products (id, name, price, rating, image, product_url, source_url, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (product_url) DO NOTHING
	RETURNING id`

// InsertProductsWithTx queues one insert per record in a single batch. A
// record whose product_url already exists is left untouched and counted as
// skipped. The returned products are the rows that were actually created.
func (db *DB) InsertProductsWithTx(ctx context.Context, tx pgx.Tx, records []models.Record) ([]*models.Product, int, error) {
	if len(records) == 0 {
		return nil, 0, nil
	}

	candidates := make([]*models.Product, 0, len(records))
	batch := &pgx.Batch{}
	for _, r := range records {
		id := uuid.New()
		p := models.NewProduct(r)
		p.ID = id.String()
		candidates = append(candidates, p)
		batch.Queue(insertProductQuery,
			id, p.Name, p.Price, p.Rating, p.Image, p.ProductURL, p.SourceURL, p.CreatedAt, p.UpdatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	var inserted []*models.Product
	skipped := 0
	for _, p := range candidates {
		var id uuid.UUID
		err := br.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			skipped++
			continue
		}
		if err != nil {
			return inserted, skipped, fmt.Errorf("failed to insert product %s: %w", p.ProductURL, err)
		}
		inserted = append(inserted, p)
	}

	if err := br.Close(); err != nil {
		return inserted, skipped, fmt.Errorf("failed to close insert batch: %w", err)
	}

	return inserted, skipped, nil
}

// ListProducts returns the newest products first.
func (db *DB) ListProducts(ctx context.Context, limit int) ([]models.Product, error) {
	query := `
		SELECT id, name, price, rating, image, product_url, source_url, created_at, updated_at
		FROM products
		ORDER BY created_at DESC, id
		LIMIT $1`

	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		var id uuid.UUID
		if err := rows.Scan(
			&id, &p.Name, &p.Price, &p.Rating, &p.Image,
			&p.ProductURL, &p.SourceURL, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.ID = id.String()
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}
