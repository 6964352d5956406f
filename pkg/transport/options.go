package transport

import (
	"github.com/buildbarn/bb-dispatch/pkg/util"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	// Registers the gzip compressor.
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
)

func init() {
	// Add Prometheus timing metrics.
	grpc_prometheus.EnableClientHandlingTimeHistogram(
		grpc_prometheus.WithHistogramBuckets(
			util.DecimalExponentialBuckets(-3, 6, 2)))
}

// NewClientOptions returns the dial and call options that are used by
// connections to storage servers. Every client reports Prometheus
// metrics and propagates OpenTelemetry trace context. Compression may
// be set to "zstd", "gzip", or be left empty to disable compression.
func NewClientOptions(compression string) ([]grpc.DialOption, []grpc.CallOption, error) {
	dialOptions := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
	}
	var callOptions []grpc.CallOption
	switch compression {
	case "":
	case ZstdCompressorName, "gzip":
		callOptions = append(callOptions, grpc.UseCompressor(compression))
	default:
		return nil, nil, status.Errorf(codes.InvalidArgument, "Unknown compression %#v", compression)
	}
	return dialOptions, callOptions, nil
}

// NewServerOptions returns the options that storage servers embedding
// the SegmentQuery service should use, so that metrics and traces are
// reported symmetrically to the client side.
func NewServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
}
