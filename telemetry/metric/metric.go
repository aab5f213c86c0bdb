//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

// Package metric provides OpenTelemetry metrics for the engine. The global
// Meter is a no-op until Start wires an OTLP exporter, so instrumented code
// never needs to check whether metrics are configured.
package metric

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Wire protocols for the OTLP exporter.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

const defaultServiceName = "agentgraph"

// Meter is the global meter used by the executor.
var Meter metric.Meter = noop.Meter{}

type options struct {
	serviceName string
	endpoint    string
	protocol    string
}

// Option configures Start.
type Option func(*options)

// WithServiceName overrides the reported service name.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// WithEndpoint sets the OTLP collector endpoint. When empty, the exporter
// falls back to the standard OTEL_EXPORTER_OTLP_* environment variables.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithProtocol selects the OTLP wire protocol (grpc or http).
func WithProtocol(protocol string) Option {
	return func(o *options) { o.protocol = protocol }
}

// Start installs a real meter provider exporting OTLP metrics. It returns a
// cleanup function that flushes and shuts the provider down.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	o := &options{
		serviceName: defaultServiceName,
		protocol:    ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(o.serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(ctx, o)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter("")

	return func() error {
		return provider.Shutdown(context.Background())
	}, nil
}

func newExporter(ctx context.Context, o *options) (sdkmetric.Exporter, error) {
	switch o.protocol {
	case ProtocolHTTP:
		var opts []otlpmetrichttp.Option
		if o.endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(o.endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		var opts []otlpmetricgrpc.Option
		if o.endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(o.endpoint), otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
}
