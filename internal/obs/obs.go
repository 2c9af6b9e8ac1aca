// Package obs bundles the OpenTelemetry wiring and the sqlite audit
// ledger into one facade, so the scheduler and HTTP surface depend on a
// single small interface instead of wiring tracers, meters and the
// ledger separately at every call site.
package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation scope name for orchestrator traces.
	TracerName = "sprintd"
	// MeterName is the instrumentation scope name for orchestrator metrics.
	MeterName = "sprintd"
)

// Config controls whether and how telemetry is exported. The zero value
// is fully disabled: Init returns a no-op Recorder at zero cost.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-http", "stdout", "none" (default: stdout)
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Recorder is the narrow surface the scheduler and HTTP layer see. It
// never returns an error: a failed span or metric write must never fail
// a task run.
type Recorder interface {
	// StartTask begins a span covering one trigger attempt and returns a
	// func to close it out with the attempt's outcome.
	StartTask(ctx context.Context, taskID, agentID string) (context.Context, func(success bool, outcome string))
	// RecordLLMCall records one gateway/subprocess invocation's latency.
	RecordLLMCall(ctx context.Context, agentID string, seconds float64, err error)
	// RecordRetry increments the retry counter for a task.
	RecordRetry(ctx context.Context, taskID string)
	// Shutdown flushes any buffered telemetry.
	Shutdown(ctx context.Context) error
}

// Provider is the concrete Recorder built by Init. It owns the
// trace/meter providers and must be Shutdown on exit.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	metrics        *Metrics
	shutdown       func(context.Context) error
}

var _ Recorder = (*Provider)(nil)

// Init sets up OpenTelemetry per cfg. When cfg.Enabled is false, it
// returns a Provider backed by the no-op tracer/meter providers so
// callers never need to branch on whether telemetry is on.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		m, err := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
		if err != nil {
			return nil, fmt.Errorf("build noop metrics: %w", err)
		}
		return &Provider{
			Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
			metrics:  m,
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sprintd"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	metrics, err := NewMetrics(mp.Meter(MeterName))
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	return &Provider{
		TracerProvider: tp,
		MeterProvider:  mp,
		Tracer:         tp.Tracer(TracerName),
		metrics:        metrics,
		shutdown: func(ctx context.Context) error {
			tErr := tp.Shutdown(ctx)
			mErr := mp.Shutdown(ctx)
			if tErr != nil {
				return tErr
			}
			return mErr
		},
	}, nil
}

func (p *Provider) StartTask(ctx context.Context, taskID, agentID string) (context.Context, func(success bool, outcome string)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, p.Tracer, "task.trigger",
		AttrTaskID.String(taskID),
		AttrAgentID.String(agentID),
	)
	p.metrics.ActiveRuns.Add(ctx, 1)
	return ctx, func(success bool, outcome string) {
		p.metrics.ActiveRuns.Add(ctx, -1)
		elapsed := time.Since(start).Seconds()
		p.metrics.TaskDuration.Record(ctx, elapsed,
			metric.WithAttributes(AttrAgentID.String(agentID), attribute.Bool("success", success)),
		)
		if !success {
			p.metrics.TriggerErrors.Add(ctx, 1, metric.WithAttributes(AttrAgentID.String(agentID)))
		}
		span.SetAttributes(attribute.Bool("success", success), attribute.String("outcome", outcome))
		span.End()
	}
}

func (p *Provider) RecordLLMCall(ctx context.Context, agentID string, seconds float64, err error) {
	p.metrics.LLMCallDuration.Record(ctx, seconds, metric.WithAttributes(AttrAgentID.String(agentID)))
	if err != nil {
		p.metrics.TriggerErrors.Add(ctx, 1, metric.WithAttributes(AttrAgentID.String(agentID), attribute.String("phase", "llm_call")))
	}
}

func (p *Provider) RecordRetry(ctx context.Context, taskID string) {
	p.metrics.RetryTotal.Add(ctx, 1, metric.WithAttributes(AttrTaskID.String(taskID)))
}

// Shutdown flushes and tears down the provider. Safe to call on a
// disabled (no-op) Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp-http":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "none":
		return &noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: otlp-http, stdout, none)", cfg.Exporter)
	}
}

// noopExporter discards all spans. Used for exporter=none in tests and
// for operators who want tracing instrumented but not shipped anywhere.
type noopExporter struct{}

func (e *noopExporter) ExportSpans(_ context.Context, _ []sdktrace.ReadOnlySpan) error { return nil }
func (e *noopExporter) Shutdown(_ context.Context) error                              { return nil }
