package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

func TestInsertProductsWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	records := []models.Record{
		{Name: "Shirt", Price: "Rs. 499", ProductURL: "https://shop.example.com/men/shirt/p/1", SourceURL: "https://shop.example.com/men"},
		{Name: "Jeans", ProductURL: "https://shop.example.com/men/jeans/p/2", SourceURL: "https://shop.example.com/men"},
	}

	t.Run("first submission saves every record", func(t *testing.T) {
		var inserted []*models.Product
		var skipped int
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			var err error
			inserted, skipped, err = db.InsertProductsWithTx(ctx, tx, records)
			return err
		})
		require.NoError(t, err)
		assert.Len(t, inserted, 2)
		assert.Equal(t, 0, skipped)
		assert.NotEmpty(t, inserted[0].ID)
	})

	t.Run("resubmission skips existing urls", func(t *testing.T) {
		var inserted []*models.Product
		var skipped int
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			var err error
			inserted, skipped, err = db.InsertProductsWithTx(ctx, tx, records)
			return err
		})
		require.NoError(t, err)
		assert.Empty(t, inserted)
		assert.Equal(t, 2, skipped)
	})

	t.Run("list returns newest first", func(t *testing.T) {
		products, err := db.ListProducts(ctx, 10)
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.False(t, products[0].CreatedAt.Before(products[1].CreatedAt))
		assert.Equal(t, "Rs. 499", findByURL(products, records[0].ProductURL).Price)
	})
}

func findByURL(products []models.Product, url string) models.Product {
	for _, p := range products {
		if p.ProductURL == url {
			return p
		}
	}
	return models.Product{}
}
