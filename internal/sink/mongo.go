package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/maltedev/listing-scraper/internal/models"
)

// MongoOptions configures the MongoDB connection and target collection.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoStore keeps one document per product URL, enforced by a unique
// index.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *slog.Logger
}

// mongoProduct adds the document id to the stored product.
type mongoProduct struct {
	ObjectID       primitive.ObjectID `bson:"_id,omitempty"`
	models.Product `bson:",inline"`
}

func NewMongoStore(ctx context.Context, opts MongoOptions, logger *slog.Logger) (*MongoStore, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("MongoDB database name is required")
	}
	if opts.Collection == "" {
		opts.Collection = "products"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.Timeout).
		SetServerSelectionTimeout(opts.Timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		timeout:    opts.Timeout,
		logger:     logger.With("component", "mongo_sink"),
	}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "productUrl", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("productUrl_unique"),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("createdAt_desc"),
		},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Persist inserts record by record. A duplicate-key rejection counts as
// skipped; any other failure stops the batch and reports what was stored
// before it.
func (s *MongoStore) Persist(ctx context.Context, records []models.Record) (Result, error) {
	batch, repeats := dedupeBatch(records)
	res := Result{Skipped: repeats}

	for _, r := range batch {
		doc := mongoProduct{Product: *models.NewProduct(r)}

		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.collection.InsertOne(opCtx, doc)
		cancel()

		if mongo.IsDuplicateKeyError(err) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, &PersistError{Saved: res.Saved, Skipped: res.Skipped, Err: classifyMongoError(err)}
		}
		res.Saved++
	}

	return res, nil
}

func (s *MongoStore) List(ctx context.Context, limit int) ([]models.Product, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(ClampLimit(limit)))

	cursor, err := s.collection.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", classifyMongoError(err))
	}
	defer cursor.Close(ctx)

	var products []models.Product
	for cursor.Next(ctx) {
		var doc mongoProduct
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		doc.Product.ID = doc.ObjectID.Hex()
		products = append(products, doc.Product)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return products, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func classifyMongoError(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
