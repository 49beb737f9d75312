package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/sink"
)

type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Extract   ExtractConfig
	Sink      SinkConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

type BrowserConfig struct {
	Renderer       string
	Headless       bool
	UserAgent      string
	ExecPath       string
	ProxyServer    string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	Humanize       bool
	NavTimeout     time.Duration
	NavRetries     int
	InitialSettle  time.Duration
	ScrollSteps    int
	ScrollDelay    time.Duration
	FinalSettle    time.Duration
}

type ExtractConfig struct {
	Workers     int
	CascadeFile string
}

type SinkConfig struct {
	Backend    string
	SQLitePath string
	FilePath   string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// RedisConfig enables the outbox relay when Addr is set.
type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	RelayPollInterval time.Duration
	RelayBatchSize    int
}

type RateLimitConfig struct {
	PerHost   float64
	Burst     int
	MaxJitter time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvInt("PORT", 8080),
			ReadTimeout:        getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvDuration("SERVER_WRITE_TIMEOUT", 150*time.Second),
			ShutdownTimeout:    getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Browser: BrowserConfig{
			Renderer:       getEnv("RENDERER", browser.KindPlaywright),
			Headless:       getEnvBool("BROWSER_HEADLESS", true),
			UserAgent:      getEnv("BROWSER_USER_AGENT", browser.DesktopChromeUA),
			ExecPath:       getEnv("BROWSER_EXEC_PATH", ""),
			ProxyServer:    getEnv("BROWSER_PROXY", ""),
			ViewportWidth:  getEnvInt("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getEnvInt("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnv("BROWSER_LOCALE", "en-US"),
			Humanize:       getEnvBool("BROWSER_HUMANIZE", false),
			NavTimeout:     getEnvDuration("NAV_TIMEOUT", 60*time.Second),
			NavRetries:     getEnvInt("NAV_RETRIES", 1),
			InitialSettle:  getEnvDuration("INITIAL_SETTLE", 3*time.Second),
			ScrollSteps:    getEnvInt("SCROLL_STEPS", 5),
			ScrollDelay:    getEnvDuration("SCROLL_DELAY", time.Second),
			FinalSettle:    getEnvDuration("FINAL_SETTLE", time.Second),
		},
		Extract: ExtractConfig{
			Workers:     getEnvInt("EXTRACT_WORKERS", 1),
			CascadeFile: getEnv("CASCADE_FILE", ""),
		},
		Sink: SinkConfig{
			Backend:    getEnv("SINK_BACKEND", sink.BackendPostgres),
			SQLitePath: getEnv("SQLITE_PATH", "listing-scraper.db"),
			FilePath:   getEnv("FILE_STORE_PATH", "products.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "listing_scraper"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Mongo: MongoConfig{
			URI:        getEnv("MONGODB_URI", "mongodb://127.0.0.1:27017"),
			Database:   getEnv("MONGODB_DATABASE", "scraper"),
			Collection: getEnv("MONGODB_COLLECTION", "products"),
			Timeout:    getEnvDuration("MONGODB_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:              getEnv("REDIS_ADDR", ""),
			Password:          getEnv("REDIS_PASSWORD", ""),
			DB:                getEnvInt("REDIS_DB", 0),
			RelayPollInterval: getEnvDuration("RELAY_POLL_INTERVAL", 5*time.Second),
			RelayBatchSize:    getEnvInt("RELAY_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			PerHost:   getEnvFloat("RATE_LIMIT_PER_HOST", 0.2),
			Burst:     getEnvInt("RATE_LIMIT_BURST", 1),
			MaxJitter: getEnvDuration("RATE_LIMIT_JITTER", 2*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Browser.Renderer {
	case browser.KindPlaywright, browser.KindChromedp:
	default:
		return fmt.Errorf("unknown renderer %q", c.Browser.Renderer)
	}

	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("NAV_TIMEOUT must be positive")
	}

	if c.Browser.ScrollSteps < 0 {
		return fmt.Errorf("SCROLL_STEPS cannot be negative")
	}

	if c.Extract.Workers < 1 {
		return fmt.Errorf("EXTRACT_WORKERS must be at least 1")
	}

	switch c.Sink.Backend {
	case sink.BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	case sink.BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGODB_URI is required")
		}
	case sink.BackendSQLite:
		if c.Sink.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	case sink.BackendFile:
	default:
		return fmt.Errorf("unknown sink backend %q", c.Sink.Backend)
	}

	if c.RateLimit.PerHost <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_HOST must be positive")
	}

	return nil
}

// BrowserOptions converts the renderer settings for the browser package.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.UserAgent = c.Browser.UserAgent
	opts.ExecPath = c.Browser.ExecPath
	opts.ProxyServer = c.Browser.ProxyServer
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.Locale = c.Browser.Locale
	opts.Humanize = c.Browser.Humanize
	opts.Settle = browser.SettleOptions{
		NavTimeout:    c.Browser.NavTimeout,
		NavRetries:    c.Browser.NavRetries,
		InitialSettle: c.Browser.InitialSettle,
		ScrollSteps:   c.Browser.ScrollSteps,
		ScrollDelay:   c.Browser.ScrollDelay,
		FinalSettle:   c.Browser.FinalSettle,
	}
	return opts
}

// SinkOptions converts the store settings for sink.Open. The outbox is
// staged only when a relay will drain it.
func (c *Config) SinkOptions() sink.Options {
	return sink.Options{
		Backend: c.Sink.Backend,
		Postgres: database.Config{
			Host:     c.Database.Host,
			Port:     c.Database.Port,
			User:     c.Database.User,
			Password: c.Database.Password,
			Database: c.Database.Name,
			SSLMode:  c.Database.SSLMode,
			MaxConns: c.Database.MaxConns,
		},
		StageEvents: c.RelayEnabled(),
		Mongo: sink.MongoOptions{
			URI:        c.Mongo.URI,
			Database:   c.Mongo.Database,
			Collection: c.Mongo.Collection,
			Timeout:    c.Mongo.Timeout,
		},
		SQLitePath: c.Sink.SQLitePath,
		FilePath:   c.Sink.FilePath,
	}
}

// RelayEnabled reports whether outbox events should be staged and relayed.
func (c *Config) RelayEnabled() bool {
	return c.Redis.Addr != "" && c.Sink.Backend == sink.BackendPostgres
}

// LoadCascade reads a YAML cascade override. Keys left out of the file keep
// their default values. An empty path returns the default cascade.
func LoadCascade(path string) (*extract.Cascade, error) {
	cascade := extract.DefaultCascade()
	if path == "" {
		return cascade, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}

	if err := yaml.Unmarshal(data, cascade); err != nil {
		return nil, fmt.Errorf("failed to parse cascade file %s: %w", path, err)
	}

	if err := cascade.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cascade file %s: %w", path, err)
	}

	return cascade, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
