package scattergather

import (
	"context"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/clock"
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/pool"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CompositeResponse is the aggregate of the responses of all servers
// to which a request was sent.
type CompositeResponse = future.CompositeFuture[topology.ServerInstance, []byte]

// ScatterGather sends a request to the servers that hold the segments
// it needs, returning a handle to the combined responses.
//
// Failures of individual servers are reported through the returned
// CompositeResponse. An error is only returned if the request itself
// is malformed.
type ScatterGather interface {
	ScatterGather(ctx context.Context, request Request) (*CompositeResponse, error)
}

type scatterGather struct {
	pool        pool.KeyedPool
	clock       clock.Clock
	errorLogger util.ErrorLogger
	tracer      trace.Tracer
}

// NewScatterGather creates a ScatterGather that obtains connections to
// servers from a connection pool.
//
// Connections are checked out in parallel. Requests are sent as soon
// as a connection becomes available, on the goroutine that delivered
// the connection. The call returns once all requests have been sent,
// or once the timeout of the request expires. In the latter case all
// checkouts still in progress are canceled, and the returned
// CompositeResponse has failed with DeadlineExceeded.
func NewScatterGather(pool pool.KeyedPool, clock clock.Clock, errorLogger util.ErrorLogger, tracerProvider trace.TracerProvider) ScatterGather {
	return &scatterGather{
		pool:        pool,
		clock:       clock,
		errorLogger: errorLogger,
		tracer:      tracerProvider.Tracer("github.com/buildbarn/bb-dispatch/pkg/scattergather"),
	}
}

func (sg *scatterGather) ScatterGather(ctx context.Context, request Request) (*CompositeResponse, error) {
	if request == nil {
		return nil, status.Error(codes.InvalidArgument, "No request provided")
	}
	if request.ReplicaSelection() == nil {
		return nil, status.Errorf(codes.InvalidArgument, "Request %s has no replica selection policy", request.RequestID())
	}

	ctx, span := sg.tracer.Start(ctx, "ScatterGather.ScatterGather", trace.WithAttributes(
		attribute.String("request_id", request.RequestID()),
		attribute.String("granularity", request.ReplicaSelectionGranularity().String()),
		attribute.String("gather_mode", request.GatherMode().String())))
	defer span.End()

	rc := NewRequestContext(request, sg.clock.Now())
	if err := buildInvertedMap(rc); err != nil {
		err = util.StatusWrapf(err, "Request %s", request.RequestID())
		util.RecordError(ctx, err)
		return nil, err
	}
	if err := selectServers(rc); err != nil {
		err = util.StatusWrapf(err, "Request %s", request.RequestID())
		util.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("inverted_map_entries", len(rc.InvertedMap())),
		attribute.Int("servers", len(rc.SelectedServers())))

	response, err := sg.sendRequest(ctx, rc)
	util.RecordError(ctx, err)
	return response, nil
}

// sendRequest launches a handler for every selected server and waits
// for all of them to send their request. If this does not succeed, the
// returned CompositeResponse has already failed with the error that is
// returned alongside it.
func (sg *scatterGather) sendRequest(ctx context.Context, rc *RequestContext) (*CompositeResponse, error) {
	request := rc.request
	servers := rc.sortedSelectedServers()
	latch := newDispatchLatch(len(servers))
	handlers := make([]*singleRequestHandler, 0, len(servers))
	for _, server := range servers {
		h := &singleRequestHandler{
			ctx:         ctx,
			pool:        sg.pool,
			server:      server,
			segments:    rc.selectedServers[server],
			request:     request,
			timeout:     request.RequestTimeout(),
			latch:       latch,
			checkout:    sg.pool.Checkout(server),
			errorLogger: sg.errorLogger,
		}
		handlers = append(handlers, h)
		h.checkout.AddListener(h.onCheckoutReady)
	}

	response := future.NewCompositeFuture[topology.ServerInstance, []byte]("scatterRequest "+request.RequestID(), request.GatherMode())
	if err := sg.waitForDispatch(ctx, rc, latch); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			// Requests that were already sent carry their
			// own timeout. Leave them alone.
			for _, h := range handlers {
				h.cancelIfNotSent()
			}
		} else {
			for _, h := range handlers {
				h.cancel()
			}
		}
		response.Abort(err)
		response.Start(nil)
		return response, err
	}

	responses := make([]future.KeyedFuture[topology.ServerInstance, []byte], 0, len(handlers))
	for _, h := range handlers {
		responses = append(responses, h.getResponse())
	}
	response.Start(responses)
	return response, nil
}

// waitForDispatch blocks until all handlers have sent their request,
// the timeout of the request expires, or the context is canceled.
func (sg *scatterGather) waitForDispatch(ctx context.Context, rc *RequestContext, latch *dispatchLatch) error {
	select {
	case <-latch.done():
		return nil
	default:
	}

	var timerChannel <-chan time.Time
	if rc.request.RequestTimeout() >= 0 {
		remaining := rc.TimeRemaining(sg.clock.Now())
		if remaining <= 0 {
			return sg.deadlineExceeded(rc)
		}
		timer, t := sg.clock.NewTimer(remaining)
		defer timer.Stop()
		timerChannel = t
	}

	select {
	case <-latch.done():
		return nil
	case <-timerChannel:
		return sg.deadlineExceeded(rc)
	case <-ctx.Done():
		return util.StatusWrapf(util.StatusFromContext(ctx), "Request %s", rc.request.RequestID())
	}
}

func (sg *scatterGather) deadlineExceeded(rc *RequestContext) error {
	return status.Errorf(
		codes.DeadlineExceeded,
		"Request %s: Timeout of %s expired before requests to all %d servers were sent",
		rc.request.RequestID(),
		rc.request.RequestTimeout(),
		len(rc.selectedServers))
}
