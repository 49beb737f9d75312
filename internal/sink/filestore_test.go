package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

const listingURL = "https://shop.example.com/men-tshirts"

func record(path string) models.Record {
	return models.Record{
		Name:       "Item " + path,
		Price:      "Rs. 499",
		ProductURL: "https://shop.example.com" + path,
		SourceURL:  listingURL,
	}
}

func TestFileStore_Persist(t *testing.T) {
	ctx := context.Background()

	t.Run("same url across two batches is saved once", func(t *testing.T) {
		store, err := NewFileStore("")
		require.NoError(t, err)

		first, err := store.Persist(ctx, []models.Record{record("/men/tshirt/p/1")})
		require.NoError(t, err)
		assert.Equal(t, Result{Saved: 1, Skipped: 0}, first)

		second, err := store.Persist(ctx, []models.Record{record("/men/tshirt/p/1")})
		require.NoError(t, err)
		assert.Equal(t, Result{Saved: 0, Skipped: 1}, second)

		assert.Equal(t, 1, store.Count())
	})

	t.Run("repeats inside one batch count as skipped", func(t *testing.T) {
		store, err := NewFileStore("")
		require.NoError(t, err)

		res, err := store.Persist(ctx, []models.Record{
			record("/men/tshirt/p/1"),
			record("/men/tshirt/p/2"),
			record("/men/tshirt/p/1"),
		})
		require.NoError(t, err)
		assert.Equal(t, Result{Saved: 2, Skipped: 1}, res)
	})

	t.Run("stored copy is not overwritten by a duplicate", func(t *testing.T) {
		store, err := NewFileStore("")
		require.NoError(t, err)

		original := record("/men/tshirt/p/1")
		_, err = store.Persist(ctx, []models.Record{original})
		require.NoError(t, err)

		changed := original
		changed.Price = "Rs. 1"
		_, err = store.Persist(ctx, []models.Record{changed})
		require.NoError(t, err)

		products, err := store.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "Rs. 499", products[0].Price)
		assert.NotEmpty(t, products[0].ID)
	})

	t.Run("cancelled context aborts with partial counts", func(t *testing.T) {
		store, err := NewFileStore("")
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err = store.Persist(cancelled, []models.Record{record("/men/tshirt/p/1")})
		var perr *PersistError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, 0, perr.Saved)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFileStore_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "products.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Persist(ctx, []models.Record{record("/men/tshirt/p/1"), record("/men/tshirt/p/2")})
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())

	res, err := reopened.Persist(ctx, []models.Record{record("/men/tshirt/p/2"), record("/men/tshirt/p/3")})
	require.NoError(t, err)
	assert.Equal(t, Result{Saved: 1, Skipped: 1}, res)
	require.NoError(t, reopened.Ping(ctx))
}

func TestFileStore_SaveFailureKeepsBatchRetryable(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "missing")
	path := filepath.Join(dir, "products.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	res, err := store.Persist(ctx, []models.Record{record("/men/tshirt/p/1")})
	var perr *PersistError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 0, perr.Saved)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, store.Count())

	require.NoError(t, os.MkdirAll(dir, 0o755))

	res, err = store.Persist(ctx, []models.Record{record("/men/tshirt/p/1")})
	require.NoError(t, err)
	assert.Equal(t, Result{Saved: 1}, res)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}

func TestFileStore_LoadNullFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Count())

	res, err := store.Persist(ctx, []models.Record{record("/men/tshirt/p/1")})
	require.NoError(t, err)
	assert.Equal(t, Result{Saved: 1}, res)
}

func TestFileStore_ListLimit(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore("")
	require.NoError(t, err)

	var batch []models.Record
	for i := 0; i < 120; i++ {
		batch = append(batch, record("/men/tshirt/p/"+string(rune('a'+i%26))+string(rune('a'+i/26))))
	}
	res, err := store.Persist(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 120, res.Saved)

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "default", limit: 0, want: 100},
		{name: "explicit", limit: 5, want: 5},
		{name: "capped", limit: 500, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := store.List(ctx, tt.limit)
			require.NoError(t, err)
			assert.Len(t, products, tt.want)
		})
	}
}
