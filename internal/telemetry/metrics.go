// Package telemetry configures the OpenTelemetry meter provider that the
// security engine records into.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/BradenHooton/sentinel/internal/config"
)

// ShutdownFunc flushes and stops the meter provider
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global meter provider that pushes to the configured OTLP
// endpoint. When no endpoint is configured the global no-op provider stays
// in place and the returned shutdown does nothing.
func Setup(ctx context.Context, cfg config.TelemetryConfig, env string, logger *slog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled() {
		logger.Info("metrics export disabled, no OTLP endpoint configured")
		return noopShutdown, nil
	}

	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(env),
		attribute.String("service", cfg.ServiceName),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exp, err := otlpmetricgrpc.New(initCtx, opts...)
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("metrics initialized", "endpoint", cfg.OTLPEndpoint, "interval", interval)
	return mp.Shutdown, nil
}
