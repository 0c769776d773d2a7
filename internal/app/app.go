package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/xenking/birdfarm-cart/internal/catalogclient"
	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
	"github.com/xenking/birdfarm-cart/internal/handler"
	"github.com/xenking/birdfarm-cart/internal/session"
	"github.com/xenking/birdfarm-cart/internal/storage/file"
	"github.com/xenking/birdfarm-cart/internal/storage/postgres"
	"github.com/xenking/birdfarm-cart/internal/storage/redis"
	"github.com/xenking/birdfarm-cart/pkg/health"
	"github.com/xenking/birdfarm-cart/pkg/httpmiddleware"
)

// cartStorage persists carts and reports whether it is reachable.
type cartStorage interface {
	Persister(sessionID string) cart.Persister
	Ping(ctx context.Context) error
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog", cfg.Catalog.Source),
		zap.String("storage", cfg.Storage.Kind),
	)

	tag, err := language.Parse(cfg.Money.Locale)
	if err != nil {
		return errors.Wrapf(err, "parse money locale %q", cfg.Money.Locale)
	}

	healthSvc := health.New()
	healthSvc.Add(health.Check{
		Name:    "goroutines",
		Probe:   health.Liveness,
		Timeout: time.Second,
		Func:    health.GoroutineCountCheck(10000),
	})

	// Cart storage.
	var storage cartStorage
	switch cfg.Storage.Kind {
	case StorageFile:
		fs, err := file.NewCartStore(cfg.Storage.Dir)
		if err != nil {
			return errors.Wrap(err, "open file cart storage")
		}
		storage = fs
	default:
		opts, err := goredis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		client := goredis.NewClient(opts)
		defer func() { _ = client.Close() }()
		storage = redis.NewCartStore(client)
	}
	healthSvc.Add(health.Check{
		Name:    cfg.Storage.Kind,
		Probe:   health.Readiness,
		Timeout: 2 * time.Second,
		Func:    health.PingCheck(storage),
	})

	// Catalog source.
	var source catalog.Catalog
	switch cfg.Catalog.Source {
	case CatalogPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxConns: cfg.Catalog.MaxConns,
			Migrate:  cfg.Catalog.Migrate,
		})
		if err != nil {
			return errors.Wrap(err, "connect catalog database")
		}
		defer pool.Close()
		healthSvc.Add(health.Check{
			Name:    "postgres",
			Probe:   health.Readiness,
			Timeout: 5 * time.Second,
			Func:    health.PingCheck(pool),
		})
		source = postgres.NewCatalogRepository(pool)
	default:
		source = catalogclient.New(catalogclient.Config{
			BaseURL: cfg.Catalog.BaseURL,
			Timeout: cfg.Catalog.Timeout,
			Breaker: catalogclient.BreakerConfig(cfg.Catalog.Breaker),
		},
			catalogclient.WithLogger(lg.Named("catalog")),
			catalogclient.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
		)
	}

	// Domain services.
	metrics, err := checkout.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout metrics")
	}
	registry := session.NewRegistry(
		storage,
		resolver.New(source, m.TracerProvider()),
		source,
		session.Config{IdleTTL: cfg.Session.IdleTTL},
		checkout.Options{
			Rules:   voucher.NewRules(time.Now),
			Metrics: metrics,
			Logger:  lg.Named("checkout"),
		},
	)
	defer registry.Close()
	registry.StartCleanup(ctx)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.New(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		Formatter:    money.NewFormatter(tag),
	}, registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.Origins,
					AllowHeaders:     []string{"Content-Type", handler.SessionHeader, handler.UserHeader},
					ExposeHeaders:    []string{handler.SessionHeader, httpmiddleware.RequestIDHeader},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
				httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
				}),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.LogRequests(),
			),
			"cart-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
