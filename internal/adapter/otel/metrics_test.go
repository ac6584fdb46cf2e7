package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Strob0t/scmrelay/internal/config"
	"github.com/Strob0t/scmrelay/internal/resilience"
)

func configDisabled() config.OTEL {
	return config.OTEL{Enabled: false, ServiceName: "scmrelay-test"}
}

func TestNewMetricsNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	// Global no-op provider; recording must not panic.
	m.ObserveAttempt(context.Background(), resilience.Attempt{Method: "GET", Status: 503, WillRetry: true, Duration: time.Millisecond})
}

func TestObserveCacheHitRatio(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := newMetrics(provider.Meter(meterName))
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}
	ratio := 0.25
	if err := m.ObserveCacheHitRatio("l1", func() float64 { return ratio }); err != nil {
		t.Fatalf("ObserveCacheHitRatio: %v", err)
	}

	for _, want := range []float64{0.25, 0.75} {
		ratio = want
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		got, ok := gaugeValue(rm, "scmrelay.cache.hit_ratio")
		if !ok {
			t.Fatal("hit ratio gauge not collected")
		}
		if got != want {
			t.Errorf("hit ratio = %v, want %v", got, want)
		}
	}
}

func gaugeValue(rm metricdata.ResourceMetrics, name string) (float64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			g, ok := md.Data.(metricdata.Gauge[float64])
			if !ok || len(g.DataPoints) != 1 {
				return 0, false
			}
			return g.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel(resilience.Attempt{Status: 429}); got != "429" {
		t.Errorf("expected 429, got %s", got)
	}
	if got := statusLabel(resilience.Attempt{Err: errors.New("reset")}); got != "transport_error" {
		t.Errorf("expected transport_error, got %s", got)
	}
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), configDisabled())
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
