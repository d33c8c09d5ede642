package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/homedesign/portal-gateway/internal/config"
)

type appMetricsSet struct {
	guardDecisionCounter metric.Int64Counter
	authLoginCounter     metric.Int64Counter
	authLogoutCounter    metric.Int64Counter
	authRefreshCounter   metric.Int64Counter
	sessionTeardown      metric.Int64Counter
	sessionStoreCounter  metric.Int64Counter
	proxyRequestCounter  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *appMetricsSet
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

	meter := mp.Meter("portal-gateway")
	set := &appMetricsSet{}
	for _, c := range []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"guard.decisions", &set.guardDecisionCounter},
		{"auth.login.attempts", &set.authLoginCounter},
		{"auth.logout.attempts", &set.authLogoutCounter},
		{"auth.refresh.attempts", &set.authRefreshCounter},
		{"session.teardowns", &set.sessionTeardown},
		{"session.store.operations", &set.sessionStoreCounter},
		{"proxy.requests", &set.proxyRequestCounter},
	} {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = set
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *appMetricsSet {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordGuardDecision counts one routing decision with the reason it was
// taken (anonymous, role_mismatch, authorized, login_view).
func RecordGuardDecision(ctx context.Context, outcome, reason string) {
	m := current()
	if m == nil {
		return
	}
	m.guardDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

func RecordAuthLogin(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSessionTeardown counts forced session clears by cause (logout,
// credential_invalid, corrupt_user, half_present, refresh_failed_no_fallback).
func RecordSessionTeardown(ctx context.Context, reason string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionTeardown.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordSessionStoreOperation(ctx context.Context, store, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionStoreCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordProxyRequest(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.proxyRequestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
