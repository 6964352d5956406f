package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/clock"
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ClientDialer is a function type that creates gRPC client connections.
// It can be overridden to make connections go through an in-memory
// listener as part of testing.
//
// grpc.ClientConnInterface is returned instead of *grpc.ClientConn to
// make it possible to wrap client connections.
type ClientDialer func(ctx context.Context, target string, opts ...grpc.DialOption) (grpc.ClientConnInterface, error)

// BaseClientDialer is a ClientDialer that simply calls gRPC's
// NewClient() function.
func BaseClientDialer(ctx context.Context, target string, opts ...grpc.DialOption) (grpc.ClientConnInterface, error) {
	return grpc.NewClient(target, opts...)
}

type grpcConnectionFactory struct {
	dialer      ClientDialer
	dialOptions []grpc.DialOption
	callOptions []grpc.CallOption
	clock       clock.Clock
}

// NewGRPCConnectionFactory creates a ConnectionFactory that establishes
// a dedicated gRPC client connection for every Connection. Requests are
// sent as unary calls against the SegmentQuery service.
func NewGRPCConnectionFactory(dialer ClientDialer, dialOptions []grpc.DialOption, callOptions []grpc.CallOption, clock clock.Clock) ConnectionFactory {
	return &grpcConnectionFactory{
		dialer:      dialer,
		dialOptions: dialOptions,
		callOptions: callOptions,
		clock:       clock,
	}
}

func (cf *grpcConnectionFactory) NewConnection(ctx context.Context, server topology.ServerInstance) (Connection, error) {
	client, err := cf.dialer(ctx, server.Address(), cf.dialOptions...)
	if err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.Unavailable, "Failed to dial server %s", server)
	}
	return &grpcConnection{
		server:      server,
		client:      client,
		callOptions: cf.callOptions,
		clock:       cf.clock,
	}, nil
}

type grpcConnection struct {
	server      topology.ServerInstance
	client      grpc.ClientConnInterface
	callOptions []grpc.CallOption
	clock       clock.Clock

	lock   sync.Mutex
	closed bool
}

func (c *grpcConnection) Server() topology.ServerInstance {
	return c.server
}

func (c *grpcConnection) SendRequest(ctx context.Context, request []byte, requestID string, timeout time.Duration) (ResponseFuture, error) {
	c.lock.Lock()
	closed := c.closed
	c.lock.Unlock()
	if closed {
		return nil, status.Errorf(codes.FailedPrecondition, "Connection to server %s is closed", c.server)
	}

	ctx = context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if timeout < 0 {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = c.clock.NewContextWithTimeout(ctx, timeout)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, requestID)

	p := future.NewPromise[topology.ServerInstance, []byte](c.server, cancel)
	go func() {
		defer cancel()
		var response wrapperspb.BytesValue
		if err := c.client.Invoke(ctx, segmentQueryExecuteMethod, wrapperspb.Bytes(request), &response, c.callOptions...); err != nil {
			p.Reject(util.StatusWrapf(err, "Request %s failed", requestID))
			return
		}
		p.Resolve(response.Value)
	}()
	return p, nil
}

func (c *grpcConnection) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	c.lock.Unlock()

	if closer, ok := c.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
