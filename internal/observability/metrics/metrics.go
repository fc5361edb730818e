package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentEvents      metric.Int64Counter
	ledgerPostings     metric.Int64Counter
	breakerTransitions metric.Int64Counter
	linksExpired       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "railpost"
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("payment_events_total",
		metric.WithDescription("Payment confirmation events by provider and outcome"))
	if err != nil {
		return nil, err
	}
	ledgerPostings, err := meter.Int64Counter("ledger_postings_total",
		metric.WithDescription("Balanced journal entry sets written"))
	if err != nil {
		return nil, err
	}
	breakerTransitions, err := meter.Int64Counter("breaker_transitions_total",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}
	linksExpired, err := meter.Int64Counter("links_expired_total",
		metric.WithDescription("Payment links transitioned to expired"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:      paymentEvents,
		ledgerPostings:     ledgerPostings,
		breakerTransitions: breakerTransitions,
		linksExpired:       linksExpired,
	}, nil
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordLedgerPosting(ctx context.Context) {
	if m == nil {
		return
	}
	m.ledgerPostings.Add(ctx, 1)
}

func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	if m == nil {
		return
	}
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}

func (m *Metrics) RecordLinkExpired(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.linksExpired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
