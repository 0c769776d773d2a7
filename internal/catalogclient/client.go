// Package catalogclient talks to the catalog service over its REST API.
package catalogclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

const maxResponseBytes = 8 << 20

var _ catalog.Catalog = (*Client)(nil)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog responded %d: %s", e.Code, e.Body)
}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// BreakerConfig tunes the circuit breaker guarding catalog calls.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is still
// wrapped for tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger for breaker state changes.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// WithTelemetry instruments outgoing requests.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.tp = tp
		c.mp = mp
	}
}

// Client implements catalog.Catalog against the catalog REST API.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	lg      *zap.Logger
	tp      trace.TracerProvider
	mp      metric.MeterProvider
}

// New creates a Client for cfg.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		lg:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}

	transport := c.http.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if c.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(c.tp))
	}
	if c.mp != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(c.mp))
	}
	hc := *c.http
	hc.Transport = otelhttp.NewTransport(transport, otelOpts...)
	c.http = &hc

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](breakerSettings(cfg.Breaker, c.lg))
	return c
}

func breakerSettings(cfg BreakerConfig, lg *zap.Logger) gobreaker.Settings {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	return gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			// Client errors say nothing about the catalog's health.
			var se *StatusError
			return errors.As(err, &se) && se.Code < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
}

// BirdsByIDs fetches birds in one batch.
func (c *Client) BirdsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return c.products(ctx, catalog.KindBird, "/birds/get-by-ids", "birds", "sellPrice", ids)
}

// NestsByIDs fetches nests in one batch.
func (c *Client) NestsByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return c.products(ctx, catalog.KindNest, "/nests/get-by-ids", "nests", "price", ids)
}

func (c *Client) products(ctx context.Context, kind catalog.Kind, path, field, priceField string, ids []string) ([]catalog.Product, error) {
	data, err := c.do(ctx, http.MethodPost, path, encodeIDs(field, ids))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %ss", kind)
	}
	products, err := decodeProducts(data, field, priceField, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %ss", kind)
	}
	return products, nil
}

// ListVouchers fetches all offered vouchers.
func (c *Client) ListVouchers(ctx context.Context) ([]voucher.Voucher, error) {
	data, err := c.do(ctx, http.MethodGet, "/vouchers", nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch vouchers")
	}
	vouchers, err := decodeVouchers(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode vouchers")
	}
	return vouchers, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
		if err != nil {
			return nil, errors.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 256)}
		}
		return data, nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
