package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/events"
)

// Backend names accepted by Open and SINK_BACKEND.
const (
	// BackendPostgres stores products with pgx and can stage outbox events.
	BackendPostgres = "postgres"
	// BackendMongo stores one document per product URL.
	BackendMongo = "mongo"
	// BackendSQLite stores products in a local database file.
	BackendSQLite = "sqlite"
	// BackendFile keeps products in memory, mirrored to a JSON file when a path is set.
	BackendFile = "file"
)

// Options selects and configures one backend.
type Options struct {
	Backend  string
	Postgres database.Config
	// StageEvents enables the transactional outbox on the postgres backend.
	StageEvents bool
	Mongo       MongoOptions
	SQLitePath  string
	FilePath    string
}

// Open connects the configured backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendPostgres:
		db, err := database.New(ctx, opts.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		var publisher *events.Publisher
		if opts.StageEvents {
			publisher = events.NewPublisher(database.NewOutboxRepository(db), logger)
		}
		return NewPostgresStore(db, publisher, logger), nil

	case BackendMongo:
		s, err := NewMongoStore(ctx, opts.Mongo, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendSQLite:
		s, err := NewSQLiteStore(ctx, opts.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendFile:
		s, err := NewFileStore(opts.FilePath)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
