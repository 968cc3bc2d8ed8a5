package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig configures the in-process tracer. There is no OTLP exporter
// wired: spans are sampled and recorded through the SDK but never shipped to
// a collector, since nothing in this deployment names an external tracing
// backend. Swap sdktrace.NewTracerProvider for one built WithBatcher(exporter)
// if that changes.
type TracerConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
}

func (c *TracerConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "assistant-axelis"
	}
	if c.SamplingRate <= 0 {
		c.SamplingRate = 1.0
	}
}

// InitGlobalTracer installs a sampling TracerProvider as the global otel
// provider and returns it so callers can Shutdown it on exit. Disabled
// configs get otel's default no-op provider.
func InitGlobalTracer(cfg TracerConfig) trace.TracerProvider {
	if !cfg.Enabled {
		return otel.GetTracerProvider()
	}
	cfg.SetDefaults()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns a named tracer off the globally installed provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// suspensionPoint names match spec §5's list of points a turn can block on.
type suspensionPoint string

const (
	SuspensionDatabase    suspensionPoint = "database"
	SuspensionVectorStore suspensionPoint = "vector_store"
	SuspensionEmbedding   suspensionPoint = "embedding_provider"
	SuspensionLLM         suspensionPoint = "language_model"
	SuspensionWebhook     suspensionPoint = "webhook"
)

// StartSpan opens a span named after the suspension point being entered,
// e.g. StartSpan(ctx, SuspensionLLM, "orchestrator.executeFull").
func StartSpan(ctx context.Context, point suspensionPoint, op string) (context.Context, trace.Span) {
	return Tracer("assistant-axelis").Start(ctx, string(point)+"."+op)
}
