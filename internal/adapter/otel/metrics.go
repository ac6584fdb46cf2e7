package otel

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/scmrelay/internal/resilience"
)

const meterName = "scmrelay"

// Metrics holds all scmrelay metric instruments.
type Metrics struct {
	UpstreamAttempts     metric.Int64Counter
	UpstreamRetries      metric.Int64Counter
	UpstreamDuration     metric.Float64Histogram
	RegistrationRuns     metric.Int64Counter
	RegistrationOutcomes metric.Int64Counter
	EventsHandled        metric.Int64Counter
	SignatureFailures    metric.Int64Counter

	meter metric.Meter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.UpstreamAttempts, err = meter.Int64Counter("scmrelay.upstream.attempts",
		metric.WithDescription("Upstream HTTP attempts, including retries"))
	if err != nil {
		return nil, err
	}

	m.UpstreamRetries, err = meter.Int64Counter("scmrelay.upstream.retries",
		metric.WithDescription("Upstream attempts that were followed by a retry"))
	if err != nil {
		return nil, err
	}

	m.UpstreamDuration, err = meter.Float64Histogram("scmrelay.upstream.duration_seconds",
		metric.WithDescription("Duration of a single upstream attempt"))
	if err != nil {
		return nil, err
	}

	m.RegistrationRuns, err = meter.Int64Counter("scmrelay.registration.runs",
		metric.WithDescription("Bulk registration runs by result"))
	if err != nil {
		return nil, err
	}

	m.RegistrationOutcomes, err = meter.Int64Counter("scmrelay.registration.outcomes",
		metric.WithDescription("Per-repository webhook registrations by result"))
	if err != nil {
		return nil, err
	}

	m.EventsHandled, err = meter.Int64Counter("scmrelay.events.handled",
		metric.WithDescription("Inbound events handled by kind"))
	if err != nil {
		return nil, err
	}

	m.SignatureFailures, err = meter.Int64Counter("scmrelay.signature.failures",
		metric.WithDescription("Inbound requests rejected by signature verification"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveCacheHitRatio exports ratio as the hit ratio gauge of the named
// cache level. ratio is read on every collection.
func (m *Metrics) ObserveCacheHitRatio(level string, ratio func() float64) error {
	attrs := metric.WithAttributes(attribute.String("cache.level", level))
	_, err := m.meter.Float64ObservableGauge("scmrelay.cache.hit_ratio",
		metric.WithDescription("Fraction of config cache reads served from the cache"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(ratio(), attrs)
			return nil
		}))
	if err != nil {
		return fmt.Errorf("cache hit ratio gauge: %w", err)
	}
	return nil
}

// ObserveAttempt implements resilience.AttemptObserver.
func (m *Metrics) ObserveAttempt(ctx context.Context, a resilience.Attempt) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", a.Method),
		attribute.String("http.status", statusLabel(a)),
	)
	m.UpstreamAttempts.Add(ctx, 1, attrs)
	m.UpstreamDuration.Record(ctx, a.Duration.Seconds(), attrs)
	if a.WillRetry {
		m.UpstreamRetries.Add(ctx, 1, attrs)
	}
}

func statusLabel(a resilience.Attempt) string {
	if a.Err != nil {
		return "transport_error"
	}
	return strconv.Itoa(a.Status)
}
