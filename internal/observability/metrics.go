// Package observability exposes the process metrics surface. The recorder is
// built on an OpenTelemetry meter; the engine wires it to a Prometheus
// exporter so the embedder can mount the scrape handler. A nil recorder is
// valid and records nothing, so callers never need nil checks.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"storyloom/internal/logging"
)

// Recorder holds the instrument set.
type Recorder struct {
	generations    metric.Int64Counter
	generationTime metric.Float64Histogram
	generationTok  metric.Int64Histogram
	toolCalls      metric.Int64Counter
	librarianRuns  metric.Int64Counter
	librarianTime  metric.Float64Histogram
}

// Setup is the result of NewPrometheus: the recorder plus the registry the
// embedder scrapes.
type Setup struct {
	Recorder *Recorder
	Registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
}

// Shutdown flushes and stops the meter provider.
func (s *Setup) Shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}

// NewPrometheus builds a recorder backed by a fresh Prometheus registry.
func NewPrometheus() (*Setup, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	rec, err := NewRecorder(provider.Meter("storyloom"))
	if err != nil {
		return nil, err
	}
	return &Setup{Recorder: rec, Registry: registry, provider: provider}, nil
}

// NewRecorder builds the instrument set on an arbitrary meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.generations, err = meter.Int64Counter("loom_generations_total",
		metric.WithDescription("Completed generation requests by mode and finish reason")); err != nil {
		return nil, err
	}
	if r.generationTime, err = meter.Float64Histogram("loom_generation_duration_seconds",
		metric.WithDescription("Wall time of generation requests")); err != nil {
		return nil, err
	}
	if r.generationTok, err = meter.Int64Histogram("loom_generation_context_tokens",
		metric.WithDescription("Estimated prompt tokens per generation")); err != nil {
		return nil, err
	}
	if r.toolCalls, err = meter.Int64Counter("loom_tool_calls_total",
		metric.WithDescription("Tool executions by tool name and outcome")); err != nil {
		return nil, err
	}
	if r.librarianRuns, err = meter.Int64Counter("loom_librarian_runs_total",
		metric.WithDescription("Librarian analysis runs by outcome")); err != nil {
		return nil, err
	}
	if r.librarianTime, err = meter.Float64Histogram("loom_librarian_duration_seconds",
		metric.WithDescription("Wall time of librarian analysis runs")); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryMetrics).Info("Metrics recorder initialized")
	return r, nil
}

// Generation records one finished generation request.
func (r *Recorder) Generation(ctx context.Context, mode, finish string, dur time.Duration, contextTokens int) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("finish", finish),
	)
	r.generations.Add(ctx, 1, attrs)
	r.generationTime.Record(ctx, dur.Seconds(), attrs)
	if contextTokens > 0 {
		r.generationTok.Record(ctx, int64(contextTokens), metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// ToolCall records one tool execution.
func (r *Recorder) ToolCall(ctx context.Context, name string, ok bool) {
	if r == nil {
		return
	}
	r.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.Bool("ok", ok),
	))
}

// LibrarianRun records one analysis run.
func (r *Recorder) LibrarianRun(ctx context.Context, status string, dur time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	r.librarianRuns.Add(ctx, 1, attrs)
	r.librarianTime.Record(ctx, dur.Seconds(), attrs)
}
