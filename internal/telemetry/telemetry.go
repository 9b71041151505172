// Package telemetry exports agent metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/utrack/hypelens"

// Config configures metric export. An empty endpoint disables export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port, or a URL such as http://collector:4317
	Interval       time.Duration
}

// Provider owns the meter provider.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
}

// Setup builds an OTLP gRPC metric pipeline, or a no-op meter without an
// endpoint.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OTLPEndpoint == "" {
		logger.Debug("metrics export disabled")
		return &Provider{meter: noop.NewMeterProvider().Meter(instrumentationName)}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hypelens"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	var opts []otlpmetricgrpc.Option
	if strings.Contains(cfg.OTLPEndpoint, "://") {
		opts = append(opts, otlpmetricgrpc.WithEndpointURL(cfg.OTLPEndpoint))
	} else {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	)
	logger.Info("metrics export enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	return &Provider{
		meterProvider: mp,
		meter:         mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}, nil
}

// Meter returns the agent meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
