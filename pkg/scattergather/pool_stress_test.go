package scattergather_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/clock"
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/pool"
	"github.com/buildbarn/bb-dispatch/pkg/scattergather"
	"github.com/buildbarn/bb-dispatch/pkg/selection"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/transport"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// flakyConnectionFactory creates connections that randomly fail to
// dial, fail to send and fail to respond. It keeps track of how
// connections are used, so that leaks and double releases by the pool
// or the engine can be detected.
type flakyConnectionFactory struct {
	reliable atomic.Bool

	opened         atomic.Int64
	closed         atomic.Int64
	closedTwice    atomic.Int64
	usedConcurrent atomic.Int64
	usedAfterClose atomic.Int64
}

func (f *flakyConnectionFactory) NewConnection(ctx context.Context, server topology.ServerInstance) (transport.Connection, error) {
	if !f.reliable.Load() {
		switch rand.Intn(10) {
		case 0:
			return nil, status.Error(codes.Unavailable, "Connection refused")
		case 1:
			// Slow dials race with cancelation of the
			// checkout. The connection is returned anyway.
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
		}
	}
	f.opened.Add(1)
	return &flakyConnection{factory: f, server: server}, nil
}

type flakyConnection struct {
	factory *flakyConnectionFactory
	server  topology.ServerInstance
	inUse   atomic.Bool
	closed  atomic.Bool
}

func (c *flakyConnection) Server() topology.ServerInstance {
	return c.server
}

func (c *flakyConnection) SendRequest(ctx context.Context, request []byte, requestID string, timeout time.Duration) (transport.ResponseFuture, error) {
	if c.closed.Load() {
		c.factory.usedAfterClose.Add(1)
	}
	if !c.inUse.CompareAndSwap(false, true) {
		c.factory.usedConcurrent.Add(1)
	}
	if rand.Intn(20) == 0 {
		c.inUse.Store(false)
		return nil, status.Error(codes.Unavailable, "Broken pipe")
	}

	response := future.NewPromise[topology.ServerInstance, []byte](c.server, nil)
	go func() {
		time.Sleep(time.Duration(rand.Intn(1000)) * time.Microsecond)
		c.inUse.Store(false)
		if rand.Intn(10) == 0 {
			response.Reject(status.Error(codes.Internal, "Disk on fire"))
		} else {
			response.Resolve([]byte(requestID))
		}
	}()
	return response, nil
}

func (c *flakyConnection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		c.factory.closedTwice.Add(1)
	}
	c.factory.closed.Add(1)
	return nil
}

type countingErrorLogger struct {
	count atomic.Int64
}

func (l *countingErrorLogger) Log(err error) {
	l.count.Add(1)
}

func TestScatterGatherPoolStress(t *testing.T) {
	const (
		dispatches       = 400
		segments         = 12
		maximumPerServer = 4
		settleTimeLimit  = 10 * time.Second
	)
	servers := []topology.ServerInstance{
		{Hostname: "storage-1", Port: 8981},
		{Hostname: "storage-2", Port: 8981},
		{Hostname: "storage-3", Port: 8981},
		{Hostname: "storage-4", Port: 8981},
	}
	gatherModes := []future.GatherMode{
		future.GatherModeShortCircuitAnd,
		future.GatherModeAnd,
		future.GatherModeIgnore,
	}
	granularities := []selection.Granularity{
		selection.SegmentIDSetGranularity,
		selection.SegmentIDGranularity,
	}

	factory := &flakyConnectionFactory{}
	errorLogger := &countingErrorLogger{}
	connectionPool := pool.NewBoundedKeyedPool(factory, pool.Configuration{
		MaximumConnectionsPerServer:     maximumPerServer,
		MaximumIdleConnectionsPerServer: 2,
	}, clock.SystemClock, errorLogger)
	sg := scattergather.NewScatterGather(connectionPool, clock.SystemClock, errorLogger, noop.NewTracerProvider())

	var malformed, hung atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < dispatches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(i)))

			// Every segment is stored on two adjacent servers.
			// Segments are assigned to groups one by one, so
			// that no segment is part of two groups.
			var groups []topology.SegmentGroup
			pinned := topology.PinnedSelection{}
			for s := 0; s < segments; s++ {
				if r.Intn(2) == 0 {
					continue
				}
				segment := topology.SegmentID(fmt.Sprintf("seg%d", s))
				groups = append(groups, topology.SegmentGroup{
					Segments: topology.NewSegmentIDSet(segment),
					Servers:  topology.ServerList{servers[s%len(servers)], servers[(s+1)%len(servers)]},
				})
				if r.Intn(8) == 0 {
					pinned[segment] = servers[r.Intn(len(servers))]
				}
			}
			if len(groups) == 0 {
				return
			}

			timeout := time.Duration(-1)
			if r.Intn(2) == 0 {
				timeout = time.Duration(r.Intn(3000)) * time.Microsecond
			}
			serializerFault := r.Intn(20)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if r.Intn(8) == 0 {
				delay := time.Duration(r.Intn(1000)) * time.Microsecond
				go func() {
					time.Sleep(delay)
					cancel()
				}()
			}

			response, err := sg.ScatterGather(ctx, &scattergather.SimpleRequest{
				Groups:      groups,
				Selection:   selection.HashReplicaSelection,
				Granularity: granularities[r.Intn(len(granularities))],
				Timeout:     timeout,
				Key:         fmt.Sprintf("user-%d", i),
				Pinned:      pinned,
				Serializer: func(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error) {
					switch serializerFault {
					case 0:
						return nil, status.Error(codes.InvalidArgument, "Query too complex")
					case 1:
						panic("Unsupported aggregation")
					}
					return []byte(segments.String()), nil
				},
				ID:   fmt.Sprintf("request-%d", i),
				Mode: gatherModes[r.Intn(len(gatherModes))],
			})
			if err != nil {
				malformed.Add(1)
				return
			}

			if r.Intn(10) == 0 {
				response.Cancel()
			}
			// Failures of individual servers are expected.
			// The response must settle nonetheless.
			select {
			case <-response.Done():
			case <-time.After(settleTimeLimit):
				hung.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Zero(t, malformed.Load(), "Requests were rejected")
	require.Zero(t, hung.Load(), "Responses never settled")

	// Every permit must have been returned. Checking out the
	// maximum number of connections to every server only succeeds
	// once all responses have settled and released their
	// connections.
	factory.reliable.Store(true)
	for _, server := range servers {
		var conns []transport.Connection
		for i := 0; i < maximumPerServer; i++ {
			f := connectionPool.Checkout(server)
			select {
			case <-f.Done():
			case <-time.After(settleTimeLimit):
				t.Fatalf("Permit of server %s was never returned", server)
			}
			conn, err := f.Get()
			require.NoError(t, err)
			conns = append(conns, conn)
		}
		for _, conn := range conns {
			require.NoError(t, connectionPool.Checkin(server, conn))
		}
	}

	// Every connection that was opened is closed exactly once.
	require.NoError(t, connectionPool.Close())
	require.Equal(t, factory.opened.Load(), factory.closed.Load())
	require.Zero(t, factory.closedTwice.Load())
	require.Zero(t, factory.usedConcurrent.Load())
	require.Zero(t, factory.usedAfterClose.Load())
	require.Zero(t, errorLogger.count.Load())
}
