package checkout

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics counts resolution outcomes.
type Metrics struct {
	started    metric.Int64Counter
	applied    metric.Int64Counter
	superseded metric.Int64Counter
	failed     metric.Int64Counter
}

// NewMetrics registers the counters on mp. A nil mp records nothing.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/birdfarm-cart/internal/domain/checkout")

	var (
		m   Metrics
		err error
	)
	if m.started, err = meter.Int64Counter("cart.resolutions.started",
		metric.WithDescription("Cart resolutions initiated")); err != nil {
		return nil, errors.Wrap(err, "started counter")
	}
	if m.applied, err = meter.Int64Counter("cart.resolutions.applied",
		metric.WithDescription("Cart resolutions whose result was shown")); err != nil {
		return nil, errors.Wrap(err, "applied counter")
	}
	if m.superseded, err = meter.Int64Counter("cart.resolutions.superseded",
		metric.WithDescription("Cart resolutions discarded because a newer one was initiated")); err != nil {
		return nil, errors.Wrap(err, "superseded counter")
	}
	if m.failed, err = meter.Int64Counter("cart.resolutions.failed",
		metric.WithDescription("Cart resolutions that failed to fetch products")); err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	return &m, nil
}

func nopMetrics() *Metrics {
	m, err := NewMetrics(nil)
	if err != nil {
		panic(err)
	}
	return m
}
