// Package sink persists extracted product records with duplicate
// suppression on the product URL.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/listing-scraper/internal/models"
)

var (
	// ErrStoreUnavailable means the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown sink backend")
)

// Result counts the outcome of one Persist call.
type Result struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// Sink accepts a batch of records. Records whose product URL is already
// stored are counted as skipped and leave the stored copy untouched.
type Sink interface {
	Persist(ctx context.Context, records []models.Record) (Result, error)
}

// Store is a Sink that can also be read back and health-checked.
type Store interface {
	Sink
	// List returns stored products newest first.
	List(ctx context.Context, limit int) ([]models.Product, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// PersistError reports a failure part-way through a batch. Saved and
// Skipped describe what was already committed when the failure happened.
type PersistError struct {
	Saved   int
	Skipped int
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist aborted after %d saved, %d skipped: %v", e.Saved, e.Skipped, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// dedupeBatch drops records that fail validation and repeats of a URL
// already seen earlier in the same batch. It returns the records to write
// and how many were dropped as repeats.
func dedupeBatch(records []models.Record) ([]models.Record, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Record, 0, len(records))
	repeats := 0
	for _, r := range records {
		if problems := r.Validate(); len(problems) > 0 {
			continue
		}
		if _, ok := seen[r.ProductURL]; ok {
			repeats++
			continue
		}
		seen[r.ProductURL] = struct{}{}
		out = append(out, r)
	}
	return out, repeats
}

const (
	// DefaultListLimit is used when a caller asks for a non-positive limit.
	DefaultListLimit = 100
	// MaxListLimit caps any listing request.
	MaxListLimit = 100
)

// ClampLimit normalizes a listing limit into [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
