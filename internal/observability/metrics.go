package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/staffhub/presence/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	sessionClaimCounter metric.Int64Counter
	evictionCounter     metric.Int64Counter
	heartbeatCounter    metric.Int64Counter
	beaconCounter       metric.Int64Counter
	repositoryCounter   metric.Int64Counter
	authLoginCounter    metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("presence")
	claimCounter, err := meter.Int64Counter("session.claim.writes")
	if err != nil {
		return nil, err
	}
	evictionCounter, err := meter.Int64Counter("session.evictions")
	if err != nil {
		return nil, err
	}
	heartbeatCounter, err := meter.Int64Counter("presence.heartbeat.writes")
	if err != nil {
		return nil, err
	}
	beaconCounter, err := meter.Int64Counter("presence.offline.beacons")
	if err != nil {
		return nil, err
	}
	repoCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	loginCounter, err := meter.Int64Counter("auth.login.attempts")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		sessionClaimCounter: claimCounter,
		evictionCounter:     evictionCounter,
		heartbeatCounter:    heartbeatCounter,
		beaconCounter:       beaconCounter,
		repositoryCounter:   repoCounter,
		authLoginCounter:    loginCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	return m
}

func RecordSessionClaim(status string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionClaimCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordEviction(outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.evictionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordHeartbeat(source, status string) {
	m := current()
	if m == nil {
		return
	}
	m.heartbeatCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}

func RecordOfflineBeacon(outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.beaconCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordAuthLogin(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}
