package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config describes the tracer provider built by NewProvider.
type Config struct {
	ServiceName string
	Exporter    string    // "stdout" (default) or "none"
	SampleRate  float64   // 0 means always sample
	Writer      io.Writer // stdout exporter target; defaults to os.Stdout
	PrettyPrint bool

	// SetGlobal installs the provider as the otel global tracer provider.
	SetGlobal bool
}

// Provider owns an SDK tracer provider and its exporter.
type Provider struct {
	*sdktrace.TracerProvider
}

// NewProvider builds a tracer provider for cfg.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "go-coroutine"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}

	switch cfg.Exporter {
	case "", ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if cfg.PrettyPrint {
			exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
		}
		exp, err := stdouttrace.New(exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case ExporterNone:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	if cfg.SetGlobal {
		otel.SetTracerProvider(tp)
	}
	return &Provider{TracerProvider: tp}, nil
}

// Observer returns a job observer that records spans on p.
func (p *Provider) Observer() *Observer {
	return NewObserver(p.TracerProvider)
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}
