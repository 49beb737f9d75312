package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/listing-scraper/internal/api"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/logger"
	"github.com/maltedev/listing-scraper/internal/metrics"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/sink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := metrics.New()

	store, err := sink.Open(ctx, cfg.SinkOptions(), log)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Sink.Backend, err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	svc, err := scraper.FromConfig(cfg, store, collector, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("failed to close renderer", "error", err)
		}
	}()

	var outbox api.OutboxStats
	if pg, ok := store.(*sink.PostgresStore); ok && cfg.RelayEnabled() {
		relay, stop, err := startRelay(ctx, cfg, pg.DB(), collector, log)
		if err != nil {
			return err
		}
		defer stop()
		outbox = relay
	}

	handlers := api.NewHandlers(svc, store, outbox, collector, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Mount("/", handlers.Routes())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"port", cfg.Server.Port,
			"renderer", cfg.Browser.Renderer,
			"sink", cfg.Sink.Backend,
			"relay", outbox != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// startRelay connects to Redis and drains the outbox in the background.
// The returned stop func waits for the relay goroutine to exit.
func startRelay(ctx context.Context, cfg *config.Config, db *database.DB, collector *metrics.Collector, log *slog.Logger) (*database.Relay, func(), error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, log, database.RelayConfig{
		PollInterval: cfg.Redis.RelayPollInterval,
		BatchSize:    cfg.Redis.RelayBatchSize,
	})
	relay.SetObserver(collector)

	relayCtx, relayCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Start(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay stopped with error", "error", err)
		}
	}()

	stop := func() {
		relayCancel()
		<-done
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis client", "error", err)
		}
	}
	return relay, stop, nil
}
