package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/logger"
	"github.com/maltedev/listing-scraper/internal/metrics"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/sink"
)

var (
	sinkBackend string
	renderer    string
	cascadeFile string
	workers     int
	limit       int
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Extract products from one listing page",
	Long: `Renders a listing page in a headless browser, locates the product cards
and stores one record per product URL in the configured sink.

Settings come from the same environment variables as the server; flags
override them.`,
	Example: `  # Scrape into a local JSON file
  scrape https://shop.example.com/men-tshirts --sink=file

  # Use chromedp and four extraction workers
  scrape https://shop.example.com/men-tshirts --renderer=chromedp --workers=4

  # Show the latest stored products
  scrape products --limit=20`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScrape,
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the most recently stored products",
	Args:  cobra.NoArgs,
	RunE:  runProducts,
}

var cascadeCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Print the effective selector cascade as YAML",
	Args:  cobra.NoArgs,
	RunE:  runCascade,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sinkBackend, "sink", "", "Sink backend: postgres, mongo, sqlite or file")
	rootCmd.PersistentFlags().StringVar(&cascadeFile, "cascade", "", "YAML file overriding the selector cascade")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.Flags().StringVar(&renderer, "renderer", "", "Renderer: playwright or chromedp")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent card extraction workers")
	productsCmd.Flags().IntVar(&limit, "limit", sink.DefaultListLimit, "Number of products to list (max 100)")

	rootCmd.AddCommand(productsCmd, cascadeCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig applies flag overrides on top of the environment.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if sinkBackend != "" {
		os.Setenv("SINK_BACKEND", sinkBackend)
	}
	if renderer != "" {
		os.Setenv("RENDERER", renderer)
	}
	if cascadeFile != "" {
		os.Setenv("CASCADE_FILE", cascadeFile)
	}
	if workers > 0 {
		os.Setenv("EXTRACT_WORKERS", fmt.Sprint(workers))
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (sink.Store, func(), error) {
	// The CLI never runs the relay, so events are not staged.
	opts := cfg.SinkOptions()
	opts.StageEvents = false

	store, err := sink.Open(ctx, opts, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Sink.Backend, err)
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}
	return store, closeFn, nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := scraper.FromConfig(cfg, store, metrics.New(), log)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Scrape(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return printJSON(cmd, map[string]interface{}{
		"success": true,
		"saved":   res.Saved,
		"skipped": res.Skipped,
		"total":   res.Total,
	})
}

func runProducts(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	products, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	return printJSON(cmd, map[string]interface{}{
		"success":  true,
		"products": products,
	})
}

func runCascade(cmd *cobra.Command, _ []string) error {
	path := cascadeFile
	if path == "" {
		path = os.Getenv("CASCADE_FILE")
	}

	cascade, err := config.LoadCascade(path)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cascade)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
