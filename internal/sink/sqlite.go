package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/maltedev/listing-scraper/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	price       TEXT NOT NULL DEFAULT '',
	rating      TEXT NOT NULL DEFAULT '',
	image       TEXT NOT NULL DEFAULT '',
	product_url TEXT NOT NULL UNIQUE,
	source_url  TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_created_at ON products (created_at DESC);`

// SQLiteStore is a single-file store for local runs.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "sqlite_sink"),
	}, nil
}

// Persist writes the batch in one transaction. On failure nothing from the
// batch is kept.
func (s *SQLiteStore) Persist(ctx context.Context, records []models.Record) (Result, error) {
	batch, repeats := dedupeBatch(records)
	if len(batch) == 0 {
		return Result{Skipped: repeats}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, &PersistError{Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (id, name, price, rating, image, product_url, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_url) DO NOTHING`)
	if err != nil {
		return Result{}, &PersistError{Err: fmt.Errorf("failed to prepare insert: %w", err)}
	}
	defer stmt.Close()

	res := Result{Skipped: repeats}
	for _, r := range batch {
		p := models.NewProduct(r)
		result, err := stmt.ExecContext(ctx,
			uuid.NewString(), p.Name, p.Price, p.Rating, p.Image, p.ProductURL, p.SourceURL, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return Result{}, &PersistError{Err: fmt.Errorf("failed to insert %s: %w", p.ProductURL, err)}
		}
		n, err := result.RowsAffected()
		if err != nil {
			return Result{}, &PersistError{Err: err}
		}
		if n == 0 {
			res.Skipped++
			continue
		}
		res.Saved++
	}

	if err := tx.Commit(); err != nil {
		return Result{}, &PersistError{Err: fmt.Errorf("failed to commit: %w", err)}
	}

	return res, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, rating, image, product_url, source_url, created_at, updated_at
		FROM products
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Rating, &p.Image,
			&p.ProductURL, &p.SourceURL, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = createdAt.UTC(), updatedAt.UTC()
		products = append(products, p)
	}

	return products, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}
