package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/scribeworks/scribe-core/internal/config"
)

// telemetry bundles the runtime's exporters with the session meters the
// event sink records into. The Prometheus handler is nil when the
// exporter could not be created; metrics then stay in-process only.
type telemetry struct {
	metricsHandler http.Handler
	closers        []func(context.Context) error

	sessionsTotal   metric.Int64Counter
	sessionErrors   metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

func initTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	t := &telemetry{}

	spanExporter, err := newSpanExporter(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	t.closers = append(t.closers, traceProvider.Shutdown)

	meterProvider := t.newMeterProvider(res, logger)
	otel.SetMeterProvider(meterProvider)
	t.closers = append(t.closers, meterProvider.Shutdown)

	if err := t.initSessionMeters(meterProvider.Meter("scribe-core")); err != nil {
		return nil, err
	}
	return t, nil
}

func newSpanExporter(ctx context.Context, tcfg config.TelemetryConfig, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(tcfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if tcfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		logger.Info("telemetry initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return otlptracegrpc.New(ctx, opts...)
	}
	logger.Info("telemetry initialized", slog.String("exporter", "stdout"))
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

func (t *telemetry) newMeterProvider(res *resource.Resource, logger *slog.Logger) *sdkmetric.MeterProvider {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	}
	t.metricsHandler = promhttp.Handler()
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
}

func (t *telemetry) initSessionMeters(meter metric.Meter) error {
	var err error
	if t.sessionsTotal, err = meter.Int64Counter("scribe_sessions_total",
		metric.WithDescription("Recording sessions started")); err != nil {
		return err
	}
	if t.sessionErrors, err = meter.Int64Counter("scribe_session_errors_total",
		metric.WithDescription("Recording sessions that ended in error")); err != nil {
		return err
	}
	t.sessionDuration, err = meter.Float64Histogram("scribe_session_duration_seconds",
		metric.WithDescription("Wall time from capture start to session end"))
	return err
}

// shutdown flushes and stops the exporters in reverse start order.
func (t *telemetry) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
