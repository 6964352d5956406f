package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	segmentQueryServiceName   = "buildbarn.dispatch.SegmentQuery"
	segmentQueryExecuteMethod = "/" + segmentQueryServiceName + "/Execute"

	// RequestIDMetadataKey is the gRPC metadata header in which the
	// identifier of a request is transmitted, so that storage
	// servers can correlate log entries with the broker.
	RequestIDMetadataKey = "x-request-id"
)

// SegmentQueryHandler is called by storage servers for every incoming
// request. It receives the serialized request produced by the broker
// and returns the serialized response.
type SegmentQueryHandler func(ctx context.Context, requestID string, request []byte) ([]byte, error)

// segmentQueryServer is the interface against which gRPC validates
// registered implementations.
type segmentQueryServer interface {
	Execute(ctx context.Context, request *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type handlerSegmentQueryServer struct {
	handler SegmentQueryHandler
}

func (s handlerSegmentQueryServer) Execute(ctx context.Context, request *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var requestID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(RequestIDMetadataKey); len(values) > 0 {
			requestID = values[0]
		}
	}
	response, err := s.handler(ctx, requestID, request.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(response), nil
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(segmentQueryServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: segmentQueryExecuteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(segmentQueryServer).Execute(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var segmentQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: segmentQueryServiceName,
	HandlerType: (*segmentQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "buildbarn/dispatch/segment_query.proto",
}

// RegisterSegmentQueryServer registers a handler for the SegmentQuery
// service against a gRPC server. Storage servers use this to answer
// requests sent by connections created through
// NewGRPCConnectionFactory().
func RegisterSegmentQueryServer(s grpc.ServiceRegistrar, handler SegmentQueryHandler) {
	s.RegisterService(&segmentQueryServiceDesc, handlerSegmentQueryServer{handler: handler})
}
