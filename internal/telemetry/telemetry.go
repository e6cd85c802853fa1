// Package telemetry installs the global OpenTelemetry tracer provider and
// propagator.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultServiceName names spans when the config does not.
const DefaultServiceName = "kestrel"

// ShutdownFunc flushes and stops whatever Setup installed.
type ShutdownFunc func(context.Context) error

// Option configures Setup.
type Option func(*options)

type options struct {
	writer  io.Writer
	version string
}

// WithWriter sends exported spans to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithVersion records the service version on every span.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Setup always installs the W3C trace-context propagator. When tracing is
// enabled it also installs an SDK tracer provider exporting to stderr.
// The returned function is safe to call when tracing is disabled.
func Setup(ctx context.Context, cfg domain.TracingConfig, opts ...Option) (ShutdownFunc, error) {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := newTracerProvider(cfg, o)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func newTracerProvider(cfg domain.TracingConfig, o options) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.writer))
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if o.version != "" {
		attrs = append(attrs, attribute.String("service.version", o.version))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	), nil
}
