package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Catalog sources.
const (
	CatalogHTTP     = "http"
	CatalogPostgres = "postgres"
)

// Cart storage kinds.
const (
	StorageRedis = "redis"
	StorageFile  = "file"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"Catalog PostgreSQL URL, required for the postgres catalog source (CART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	Catalog      CatalogConfig
	Storage      StorageConfig
	Session      SessionConfig
	Money        MoneyConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CatalogConfig selects where products and vouchers are read from.
type CatalogConfig struct {
	Source  string        `default:"http" usage:"Catalog source: http or postgres"`
	BaseURL string        `default:"http://localhost:3000" usage:"Catalog service base URL" flag:"catalog-url"`
	Timeout time.Duration `default:"5s" usage:"Catalog request timeout"`
	Breaker BreakerConfig
	// MaxConns and Migrate apply to the postgres source only.
	MaxConns int  `default:"10" usage:"Max catalog database connections"`
	Migrate  bool `default:"true" usage:"Apply the catalog schema on start"`
}

// BreakerConfig tunes the circuit breaker around catalog calls.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker"`
	OpenTimeout         time.Duration `default:"30s" usage:"How long the breaker stays open"`
	HalfOpenRequests    uint32        `default:"1" usage:"Probe requests allowed while half-open"`
}

// StorageConfig selects where carts are persisted.
type StorageConfig struct {
	Kind     string `default:"redis" usage:"Cart storage: redis or file"`
	RedisURL string `default:"redis://localhost:6379/0" usage:"Redis URL (CART_STORAGE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Dir      string `default:"data/carts" usage:"Directory for the file cart storage"`
}

// SessionConfig controls in-memory session lifetime.
type SessionConfig struct {
	IdleTTL time.Duration `default:"30m" usage:"Idle time before a session is dropped from memory"`
}

// MoneyConfig controls price formatting.
type MoneyConfig struct {
	Locale string `default:"vi" usage:"BCP 47 language tag used to group digits"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CART",
		Files:     []string{"config.yaml", "/etc/birdfarm/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Catalog.Source {
	case CatalogHTTP:
		if c.Catalog.BaseURL == "" {
			return errors.New("catalog base URL is required for the http catalog source")
		}
	case CatalogPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres catalog source: set CART_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}

	switch c.Storage.Kind {
	case StorageRedis, StorageFile:
	default:
		return errors.Errorf("unknown cart storage %q", c.Storage.Kind)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names to the CART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("CART_STORAGE_REDIS_URL") == "" {
		c.Storage.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
