package scattergather_test

import (
	"context"
	"testing"
	"time"

	"github.com/buildbarn/bb-dispatch/internal/mock"
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/scattergather"
	"github.com/buildbarn/bb-dispatch/pkg/selection"
	"github.com/buildbarn/bb-dispatch/pkg/testutil"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/transport"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	serverA = topology.ServerInstance{Hostname: "server-a", Port: 8981}
	serverB = topology.ServerInstance{Hostname: "server-b", Port: 8981}
)

// serializeSegments produces a payload that lists the segments that
// were assigned to the server.
func serializeSegments(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error) {
	return []byte(segments.String()), nil
}

func succeededCheckout(server topology.ServerInstance, conn transport.Connection) future.KeyedFuture[topology.ServerInstance, transport.Connection] {
	return future.NewSucceededFuture[topology.ServerInstance, transport.Connection](server, conn)
}

func pendingCheckout(server topology.ServerInstance) *future.Promise[topology.ServerInstance, transport.Connection] {
	return future.NewPromise[topology.ServerInstance, transport.Connection](server, nil)
}

func succeededResponse(server topology.ServerInstance, response string) transport.ResponseFuture {
	return future.NewSucceededFuture[topology.ServerInstance, []byte](server, []byte(response))
}

type testEnvironment struct {
	clock       *mock.MockClock
	pool        *mock.MockKeyedPool
	errorLogger *mock.MockErrorLogger
	sg          scattergather.ScatterGather
}

func newTestEnvironment(ctrl *gomock.Controller) *testEnvironment {
	env := &testEnvironment{
		clock:       mock.NewMockClock(ctrl),
		pool:        mock.NewMockKeyedPool(ctrl),
		errorLogger: mock.NewMockErrorLogger(ctrl),
	}
	env.clock.EXPECT().Now().Return(time.Unix(1000, 0)).AnyTimes()
	env.sg = scattergather.NewScatterGather(env.pool, env.clock, env.errorLogger, noop.NewTracerProvider())
	return env
}

func TestScatterGatherMergesGroupsWithIdenticalCandidates(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// Both groups share the candidate list [A, B], meaning they
	// can be resolved with a single request.
	connA := mock.NewMockConnection(ctrl)
	env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
	connA.EXPECT().SendRequest(gomock.Any(), []byte("{seg1,seg2,seg3}"), "request-1", time.Duration(-1)).
		Return(succeededResponse(serverA, "Rows from A"), nil)

	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg1", "seg2"), Servers: topology.ServerList{serverA, serverB}},
			{Segments: topology.NewSegmentIDSet("seg3"), Servers: topology.ServerList{serverA, serverB}},
		},
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     -1,
		Key:         "q1",
		Serializer:  serializeSegments,
		ID:          "request-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, response.NumFutures())

	responses, err := response.Get()
	require.NoError(t, err)
	require.Equal(t, map[topology.ServerInstance][]byte{
		serverA: []byte("Rows from A"),
	}, responses)
}

func TestScatterGatherPinnedSegment(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// Segment seg2 is pinned to B, which should cause it to be
	// sent there, even though the policy would pick A.
	connA := mock.NewMockConnection(ctrl)
	env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
	connA.EXPECT().SendRequest(gomock.Any(), []byte("{seg1,seg3}"), "request-2", 10*time.Second).
		Return(succeededResponse(serverA, "Rows from A"), nil)
	connB := mock.NewMockConnection(ctrl)
	env.pool.EXPECT().Checkout(serverB).Return(succeededCheckout(serverB, connB))
	connB.EXPECT().SendRequest(gomock.Any(), []byte("{seg2}"), "request-2", 10*time.Second).
		Return(succeededResponse(serverB, "Rows from B"), nil)

	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg1", "seg2"), Servers: topology.ServerList{serverA, serverB}},
			{Segments: topology.NewSegmentIDSet("seg3"), Servers: topology.ServerList{serverA, serverB}},
		},
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     10 * time.Second,
		Key:         "q1",
		Pinned:      topology.PinnedSelection{"seg2": serverB},
		Serializer:  serializeSegments,
		ID:          "request-2",
	})
	require.NoError(t, err)

	responses, err := response.Get()
	require.NoError(t, err)
	require.Equal(t, map[topology.ServerInstance][]byte{
		serverA: []byte("Rows from A"),
		serverB: []byte("Rows from B"),
	}, responses)
}

func TestScatterGatherSegmentIDGranularity(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// The first segment of the group is used as the selection key
	// for every segment in the group, causing all of them to be
	// sent to the same server. This provides no better load
	// distribution than SegmentIDSetGranularity, but is the
	// current behavior.
	replicaSelection := mock.NewMockReplicaSelection(ctrl)
	replicaSelection.EXPECT().SelectServer(topology.SegmentID("seg1"), topology.ServerList{serverA, serverB}, "q1").
		Return(serverB, true).
		Times(3)
	connB := mock.NewMockConnection(ctrl)
	env.pool.EXPECT().Checkout(serverB).Return(succeededCheckout(serverB, connB))
	connB.EXPECT().SendRequest(gomock.Any(), []byte("{seg1,seg2,seg3}"), "request-3", time.Duration(-1)).
		Return(succeededResponse(serverB, "Rows from B"), nil)

	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg3", "seg1", "seg2"), Servers: topology.ServerList{serverA, serverB}},
		},
		Selection:   replicaSelection,
		Granularity: selection.SegmentIDGranularity,
		Timeout:     -1,
		Key:         "q1",
		Serializer:  serializeSegments,
		ID:          "request-3",
	})
	require.NoError(t, err)
	responses, err := response.Get()
	require.NoError(t, err)
	require.Equal(t, map[topology.ServerInstance][]byte{
		serverB: []byte("Rows from B"),
	}, responses)
}

func TestScatterGatherExpiredTimeout(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// A timeout of zero with two checkouts that do not complete
	// synchronously. Both checkouts should be canceled, and no
	// requests should be sent.
	checkoutA := pendingCheckout(serverA)
	env.pool.EXPECT().Checkout(serverA).Return(checkoutA)
	checkoutB := pendingCheckout(serverB)
	env.pool.EXPECT().Checkout(serverB).Return(checkoutB)

	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg1"), Servers: topology.ServerList{serverA}},
			{Segments: topology.NewSegmentIDSet("seg2"), Servers: topology.ServerList{serverB}},
		},
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     0,
		Key:         "q1",
		Serializer:  serializeSegments,
		ID:          "request-4",
	})
	require.NoError(t, err)
	require.Equal(t, 0, response.NumFutures())
	_, err = response.Get()
	testutil.RequireEqualStatus(t, status.Error(codes.DeadlineExceeded, "Request request-4: Timeout of 0s expired before requests to all 2 servers were sent"), err)

	_, err = checkoutA.Get()
	require.Equal(t, codes.Canceled, status.Code(err))
	_, err = checkoutB.Get()
	require.Equal(t, codes.Canceled, status.Code(err))

	// Connections that are produced by the pool after cancelation
	// are not accepted, meaning the pool retains ownership.
	require.False(t, checkoutA.Resolve(mock.NewMockConnection(ctrl)))
}

func TestScatterGatherTimeoutDuringDispatch(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// The request to A is sent immediately, while the checkout for
	// B never completes. Once the timer fires, only the checkout
	// for B should be canceled. The response of A carries its own
	// timeout and should be left alone.
	connA := mock.NewMockConnection(ctrl)
	env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
	responseA := future.NewPromise[topology.ServerInstance, []byte](serverA, nil)
	connA.EXPECT().SendRequest(gomock.Any(), []byte("{seg1}"), "request-5", 5*time.Second).Return(responseA, nil)
	checkoutB := pendingCheckout(serverB)
	env.pool.EXPECT().Checkout(serverB).Return(checkoutB)

	timer := mock.NewMockTimer(ctrl)
	timerChannel := make(chan time.Time, 1)
	env.clock.EXPECT().NewTimer(5*time.Second).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
		timerChannel <- time.Unix(1005, 0)
		return timer, timerChannel
	})
	timer.EXPECT().Stop().Return(false)

	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg1"), Servers: topology.ServerList{serverA}},
			{Segments: topology.NewSegmentIDSet("seg2"), Servers: topology.ServerList{serverB}},
		},
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     5 * time.Second,
		Key:         "q1",
		Serializer:  serializeSegments,
		ID:          "request-5",
	})
	require.NoError(t, err)
	require.Equal(t, 0, response.NumFutures())
	_, err = response.Get()
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	_, err = checkoutB.Get()
	require.Equal(t, codes.Canceled, status.Code(err))
	select {
	case <-responseA.Done():
		t.Fatal("Response of server A should not have been canceled")
	default:
	}
}

func TestScatterGatherContextCanceled(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// Cancelation of the caller's context should cancel all
	// handlers, including the ones that already sent their request.
	connA := mock.NewMockConnection(ctrl)
	env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
	responseA := future.NewPromise[topology.ServerInstance, []byte](serverA, nil)
	connA.EXPECT().SendRequest(gomock.Any(), []byte("{seg1}"), "request-6", time.Duration(-1)).Return(responseA, nil)
	checkoutB := pendingCheckout(serverB)
	env.pool.EXPECT().Checkout(serverB).Return(checkoutB)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	response, err := env.sg.ScatterGather(canceledCtx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg1"), Servers: topology.ServerList{serverA}},
			{Segments: topology.NewSegmentIDSet("seg2"), Servers: topology.ServerList{serverB}},
		},
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     -1,
		Key:         "q1",
		Serializer:  serializeSegments,
		ID:          "request-6",
	})
	require.NoError(t, err)
	_, err = response.Get()
	testutil.RequireEqualStatus(t, status.Error(codes.Canceled, "Request request-6: context canceled"), err)

	_, err = responseA.Get()
	require.Equal(t, codes.Canceled, status.Code(err))
	_, err = checkoutB.Get()
	require.Equal(t, codes.Canceled, status.Code(err))
}

func TestScatterGatherAsynchronousCheckout(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// The checkout completes on another goroutine while the
	// dispatcher is waiting. The request should be sent from
	// there.
	connA := mock.NewMockConnection(ctrl)
	checkoutA := pendingCheckout(serverA)
	env.pool.EXPECT().Checkout(serverA).Return(checkoutA)
	connA.EXPECT().SendRequest(gomock.Any(), []byte("{seg1}"), "request-7", time.Minute).
		Return(succeededResponse(serverA, "Rows from A"), nil)

	timer := mock.NewMockTimer(ctrl)
	env.clock.EXPECT().NewTimer(time.Minute).DoAndReturn(func(d time.Duration) (*mock.MockTimer, <-chan time.Time) {
		go checkoutA.Resolve(connA)
		return timer, make(chan time.Time)
	})
	timer.EXPECT().Stop().Return(true)

	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Groups: []topology.SegmentGroup{
			{Segments: topology.NewSegmentIDSet("seg1"), Servers: topology.ServerList{serverA}},
		},
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     time.Minute,
		Key:         "q1",
		Serializer:  serializeSegments,
		ID:          "request-7",
	})
	require.NoError(t, err)
	responses, err := response.Get()
	require.NoError(t, err)
	require.Equal(t, map[topology.ServerInstance][]byte{
		serverA: []byte("Rows from A"),
	}, responses)
}

func TestScatterGatherFailedLegs(t *testing.T) {
	groups := []topology.SegmentGroup{
		{Segments: topology.NewSegmentIDSet("seg1"), Servers: topology.ServerList{serverA}},
		{Segments: topology.NewSegmentIDSet("seg2"), Servers: topology.ServerList{serverB}},
	}

	t.Run("CheckoutFailure", func(t *testing.T) {
		ctrl, ctx := gomock.WithContext(context.Background(), t)
		env := newTestEnvironment(ctrl)

		env.pool.EXPECT().Checkout(serverA).Return(future.NewFailedFuture[topology.ServerInstance, transport.Connection](
			serverA, status.Error(codes.Unavailable, "Connection refused")))
		connB := mock.NewMockConnection(ctrl)
		env.pool.EXPECT().Checkout(serverB).Return(succeededCheckout(serverB, connB))
		connB.EXPECT().SendRequest(gomock.Any(), []byte("{seg2}"), "request-8", time.Duration(-1)).
			Return(succeededResponse(serverB, "Rows from B"), nil)

		response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
			Groups:      groups,
			Selection:   selection.FirstReplicaSelection,
			Granularity: selection.SegmentIDSetGranularity,
			Timeout:     -1,
			Serializer:  serializeSegments,
			ID:          "request-8",
			Mode:        future.GatherModeAnd,
		})
		require.NoError(t, err)
		require.Equal(t, 2, response.NumFutures())

		// The failure should be reported as part of the
		// response of server A, while B's response is retained.
		responses, err := response.Get()
		testutil.RequireEqualStatus(t, status.Error(codes.Unavailable, "Server server-a:8981: Failed to check out connection: Connection refused"), err)
		require.Equal(t, map[topology.ServerInstance][]byte{
			serverB: []byte("Rows from B"),
		}, responses)
	})

	t.Run("SerializerFailure", func(t *testing.T) {
		ctrl, ctx := gomock.WithContext(context.Background(), t)
		env := newTestEnvironment(ctrl)

		// The connection should be returned to the pool, as it
		// was never used.
		connA := mock.NewMockConnection(ctrl)
		env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
		env.pool.EXPECT().Checkin(serverA, connA)

		response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
			Groups:      groups[:1],
			Selection:   selection.FirstReplicaSelection,
			Granularity: selection.SegmentIDSetGranularity,
			Timeout:     -1,
			Serializer: func(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error) {
				return nil, status.Error(codes.NotFound, "Unknown column \"price\"")
			},
			ID: "request-9",
		})
		require.NoError(t, err)
		_, err = response.Get()
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Server server-a:8981: Failed to serialize request: Unknown column \"price\""), err)
	})

	t.Run("SerializerPanic", func(t *testing.T) {
		ctrl, ctx := gomock.WithContext(context.Background(), t)
		env := newTestEnvironment(ctrl)

		connA := mock.NewMockConnection(ctrl)
		env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
		env.pool.EXPECT().Checkin(serverA, connA)

		response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
			Groups:      groups[:1],
			Selection:   selection.FirstReplicaSelection,
			Granularity: selection.SegmentIDSetGranularity,
			Timeout:     -1,
			Serializer: func(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error) {
				panic("Out of coffee")
			},
			ID: "request-10",
		})
		require.NoError(t, err)
		_, err = response.Get()
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Server server-a:8981: Failed to serialize request: Serializer panicked: Out of coffee"), err)
	})

	t.Run("SendFailure", func(t *testing.T) {
		ctrl, ctx := gomock.WithContext(context.Background(), t)
		env := newTestEnvironment(ctrl)

		// The state of the connection is unknown, so it must be
		// destroyed.
		connA := mock.NewMockConnection(ctrl)
		env.pool.EXPECT().Checkout(serverA).Return(succeededCheckout(serverA, connA))
		connA.EXPECT().SendRequest(gomock.Any(), []byte("{seg1}"), "request-11", time.Duration(-1)).
			Return(nil, status.Error(codes.FailedPrecondition, "Connection to server server-a:8981 is closed"))
		env.pool.EXPECT().Destroy(serverA, connA).Return(status.Error(codes.Internal, "Connection already closed"))
		env.errorLogger.EXPECT().Log(testutil.EqStatus(t, status.Error(codes.Internal, "Request request-11: Failed to destroy connection to server server-a:8981: Connection already closed")))

		response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
			Groups:      groups[:1],
			Selection:   selection.FirstReplicaSelection,
			Granularity: selection.SegmentIDSetGranularity,
			Timeout:     -1,
			Serializer:  serializeSegments,
			ID:          "request-11",
		})
		require.NoError(t, err)
		_, err = response.Get()
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Server server-a:8981: Failed to send request: Connection to server server-a:8981 is closed"), err)
	})
}

func TestScatterGatherInvalidRequests(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	t.Run("NilRequest", func(t *testing.T) {
		_, err := env.sg.ScatterGather(ctx, nil)
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "No request provided"), err)
	})

	t.Run("NoReplicaSelection", func(t *testing.T) {
		_, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{ID: "request-12"})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Request request-12 has no replica selection policy"), err)
	})

	t.Run("NoCandidates", func(t *testing.T) {
		_, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
			Groups: []topology.SegmentGroup{
				{Segments: topology.NewSegmentIDSet("seg1")},
			},
			Selection:   selection.FirstReplicaSelection,
			Granularity: selection.SegmentIDSetGranularity,
			ID:          "request-13",
		})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Request request-13: Segment \"seg1\" has no candidate servers"), err)
	})

	t.Run("UnknownGranularity", func(t *testing.T) {
		_, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
			Groups: []topology.SegmentGroup{
				{Segments: topology.NewSegmentIDSet("seg1"), Servers: topology.ServerList{serverA}},
			},
			Selection:   selection.FirstReplicaSelection,
			Granularity: selection.Granularity(42),
			ID:          "request-14",
		})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Request request-14: Unknown replica selection granularity 42"), err)
	})
}

func TestScatterGatherNoSegments(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	env := newTestEnvironment(ctrl)

	// Requests without any segments complete immediately.
	response, err := env.sg.ScatterGather(ctx, &scattergather.SimpleRequest{
		Selection:   selection.FirstReplicaSelection,
		Granularity: selection.SegmentIDSetGranularity,
		Timeout:     time.Second,
		ID:          "request-15",
	})
	require.NoError(t, err)
	responses, err := response.Get()
	require.NoError(t, err)
	require.Empty(t, responses)
}
