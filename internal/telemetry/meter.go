package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is the service name reported on every metric.
const DefaultServiceName = "social-sync"

// Config controls metric collection.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// Provider bundles the meter provider with the Prometheus scrape handler.
type Provider struct {
	MeterProvider metric.MeterProvider

	handler  http.Handler
	shutdown func(context.Context) error
}

// Handler serves the Prometheus exposition format. When metrics are
// disabled it answers 404.
func (p *Provider) Handler() http.Handler {
	if p.handler == nil {
		return http.NotFoundHandler()
	}
	return p.handler
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// NewProvider creates the meter provider. It returns a no-op provider when
// metrics are disabled; otherwise an SDK provider read by a Prometheus
// exporter on its own registry.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		slog.Info("metrics disabled, using no-op meter provider")
		return &Provider{MeterProvider: noop.NewMeterProvider()}, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	version := cfg.ServiceVersion
	if version == "" {
		version = "unknown"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	slog.Info("metrics initialized", "service", name)

	return &Provider{
		MeterProvider: mp,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown:      mp.Shutdown,
	}, nil
}
