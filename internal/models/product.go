package models

import (
	"time"
)

// Record is one product candidate pulled out of a single listing card.
// ProductURL is always absolute and non-empty for records that leave the
// extractor.
type Record struct {
	Name       string `json:"name"`
	Price      string `json:"price"`
	Rating     string `json:"rating"`
	Image      string `json:"image"`
	ProductURL string `json:"productUrl"`
	SourceURL  string `json:"sourceUrl"`
}

// Product is a persisted record. ProductURL is the identity key.
type Product struct {
	ID         string    `json:"id" bson:"-"`
	Name       string    `json:"name" bson:"name"`
	Price      string    `json:"price" bson:"price"`
	Rating     string    `json:"rating" bson:"rating"`
	Image      string    `json:"image" bson:"image"`
	ProductURL string    `json:"productUrl" bson:"productUrl"`
	SourceURL  string    `json:"sourceUrl" bson:"sourceUrl"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// BatchResult is what one orchestration call reports back.
type BatchResult struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Snapshot is a rendered page handed over by a renderer.
type Snapshot struct {
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url"`
	HTML       string    `json:"-"`
	RenderedAt time.Time `json:"rendered_at"`
}

func NewProduct(r Record) *Product {
	now := time.Now().UTC()
	return &Product{
		Name:       r.Name,
		Price:      r.Price,
		Rating:     r.Rating,
		Image:      r.Image,
		ProductURL: r.ProductURL,
		SourceURL:  r.SourceURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *Record) Validate() []string {
	var errors []string

	if r.ProductURL == "" {
		errors = append(errors, "productUrl is required")
	}

	if r.SourceURL == "" {
		errors = append(errors, "sourceUrl is required")
	}

	return errors
}
