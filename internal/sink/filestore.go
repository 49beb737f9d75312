package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/models"
)

// FileStore keeps products in memory keyed by product URL and mirrors them
// to a JSON file. An empty filename keeps everything in memory.
type FileStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		products: make(map[string]*models.Product),
		filename: filename,
	}

	if filename == "" {
		return fs, nil
	}

	// Load existing data if file exists
	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", filename, err)
	}

	return fs, nil
}

func (fs *FileStore) Persist(ctx context.Context, records []models.Record) (Result, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	batch, repeats := dedupeBatch(records)
	res := Result{Skipped: repeats}

	added := make([]*models.Product, 0, len(batch))
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			return Result{Skipped: res.Skipped}, &PersistError{Skipped: res.Skipped, Err: err}
		}
		if _, exists := fs.products[r.ProductURL]; exists {
			res.Skipped++
			continue
		}
		p := models.NewProduct(r)
		p.ID = uuid.NewString()
		added = append(added, p)
	}

	if len(added) == 0 {
		return res, nil
	}

	for _, p := range added {
		fs.products[p.ProductURL] = p
	}
	if err := fs.save(); err != nil {
		// Nothing reached disk; forget the batch so a retry can save it.
		for _, p := range added {
			delete(fs.products, p.ProductURL)
		}
		return Result{Skipped: res.Skipped}, &PersistError{Skipped: res.Skipped, Err: err}
	}

	res.Saved = len(added)
	return res, nil
}

func (fs *FileStore) List(_ context.Context, limit int) ([]models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	products := make([]models.Product, 0, len(fs.products))
	for _, p := range fs.products {
		products = append(products, *p)
	}

	sort.SliceStable(products, func(i, j int) bool {
		if products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].ProductURL < products[j].ProductURL
		}
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})

	limit = ClampLimit(limit)
	if len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

// Count returns the number of stored products.
func (fs *FileStore) Count() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.products)
}

func (fs *FileStore) Ping(context.Context) error {
	if fs.filename == "" {
		return nil
	}
	if _, err := os.Stat(fs.filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (fs *FileStore) Close(context.Context) error {
	return nil
}

func (fs *FileStore) save() error {
	if fs.filename == "" {
		return nil
	}

	data, err := json.MarshalIndent(fs.products, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, fs.filename)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &fs.products); err != nil {
		return err
	}
	if fs.products == nil {
		fs.products = make(map[string]*models.Product)
	}
	return nil
}
