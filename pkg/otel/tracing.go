package otel

import (
	"context"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/transport"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// TracingConfiguration controls how spans created by the broker are
// exported.
type TracingConfiguration struct {
	// Address of an OTLP collector, as a gRPC target.
	OTLPEndpoint string `json:"otlpEndpoint"`
	// Fraction of root spans that are sampled. Spans with a parent
	// follow the sampling decision of the parent.
	SampleRatio float64 `json:"sampleRatio"`
	// If set, spans are exported in batches, waiting at most this
	// long as a Go duration string. Otherwise every span is exported
	// as soon as it ends.
	BatchTimeout string `json:"batchTimeout"`
	// Attributes identifying this process, such as "service.name".
	ResourceAttributes map[string]string `json:"resourceAttributes"`
}

// NewTracerProviderFromConfiguration creates a tracer provider that
// exports spans to an OTLP collector. The connection to the collector
// is created without trace instrumentation, as exporting spans would
// otherwise create more spans.
func NewTracerProviderFromConfiguration(ctx context.Context, configuration *TracingConfiguration, dialer transport.ClientDialer) (*sdktrace.TracerProvider, error) {
	if configuration.OTLPEndpoint == "" {
		return nil, status.Error(codes.InvalidArgument, "No OTLP endpoint provided")
	}
	if configuration.SampleRatio < 0 || configuration.SampleRatio > 1 {
		return nil, status.Errorf(codes.InvalidArgument, "Sample ratio %g is not within [0, 1]", configuration.SampleRatio)
	}

	conn, err := dialer(ctx, configuration.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to create OTLP gRPC client")
	}
	spanExporter, err := otlptrace.New(ctx, NewGRPCOTLPTraceClient(conn))
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to create OTLP span exporter")
	}

	var spanProcessor sdktrace.SpanProcessor
	if configuration.BatchTimeout == "" {
		spanProcessor = sdktrace.NewSimpleSpanProcessor(spanExporter)
	} else {
		batchTimeout, err := time.ParseDuration(configuration.BatchTimeout)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "Invalid batch timeout %#v: %s", configuration.BatchTimeout, err)
		}
		spanProcessor = sdktrace.NewBatchSpanProcessor(spanExporter, sdktrace.WithBatchTimeout(batchTimeout))
	}

	resourceAttributes := make([]attribute.KeyValue, 0, len(configuration.ResourceAttributes))
	for key, value := range configuration.ResourceAttributes {
		resourceAttributes = append(resourceAttributes, attribute.String(key, value))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanProcessor),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, resourceAttributes...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(configuration.SampleRatio)))), nil
}

// NewTextMapPropagator returns the propagator that is used to extract
// trace context from incoming HTTP requests and inject it into
// requests sent to servers. Both W3C Trace Context and B3 are
// supported.
func NewTextMapPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader)))
}
