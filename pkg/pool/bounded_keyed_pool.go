package pool

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/clock"
	"github.com/buildbarn/bb-dispatch/pkg/eviction"
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/transport"
	"github.com/buildbarn/bb-dispatch/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	poolPrometheusMetrics sync.Once

	poolCheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "dispatch",
			Name:      "pool_checkouts_total",
			Help:      "Number of connection checkouts, by the way in which they were satisfied.",
		},
		[]string{"source"})
	poolCheckoutsTotalIdle    = poolCheckoutsTotal.WithLabelValues("Idle")
	poolCheckoutsTotalCreated = poolCheckoutsTotal.WithLabelValues("Created")
	poolCheckoutsTotalFailed  = poolCheckoutsTotal.WithLabelValues("Failed")

	poolConnectionsDestroyedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "dispatch",
			Name:      "pool_connections_destroyed_total",
			Help:      "Number of pooled connections that were closed.",
		})

	poolCheckoutWaitDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "dispatch",
			Name:      "pool_checkout_wait_duration_seconds",
			Help:      "Amount of time spent waiting for a connection permit to become available, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-6, 7, 2),
		})
)

// Configuration of a bounded keyed pool.
type Configuration struct {
	// Maximum number of connections to a single server that may be
	// checked out at the same time. Checkouts beyond this limit wait
	// until a connection is checked in or destroyed.
	MaximumConnectionsPerServer int64
	// Maximum number of idle connections retained per server.
	// Connections checked in beyond this limit are closed.
	MaximumIdleConnectionsPerServer int
	// Policy that determines which idle connection is closed when
	// the limit above is exceeded. Idle connections are reused in
	// the same order, so that connections at risk of being closed
	// are kept busy.
	IdleConnectionEvictionPolicy eviction.CacheReplacementPolicy
}

type serverPool struct {
	permits    *semaphore.Weighted
	idle       eviction.Set[*pooledConnection]
	idleCount  int
	checkedOut map[*pooledConnection]struct{}
}

// removeIdle removes the idle connection that is next in eviction
// order. The caller must hold the pool lock.
func (sp *serverPool) removeIdle() *pooledConnection {
	if sp.idleCount == 0 {
		return nil
	}
	conn := sp.idle.Peek()
	sp.idle.Remove()
	sp.idleCount--
	return conn
}

type boundedKeyedPool struct {
	factory     transport.ConnectionFactory
	config      Configuration
	clock       clock.Clock
	errorLogger util.ErrorLogger

	lock    sync.Mutex
	servers map[topology.ServerInstance]*serverPool
	closed  bool
}

// BoundedKeyedPool is a KeyedPool that can be shut down.
type BoundedKeyedPool interface {
	KeyedPool

	// Close all idle connections. Connections that are checked out
	// at the time of the call are closed when they are returned.
	Close() error
}

// NewBoundedKeyedPool creates a KeyedPool that places an upper bound on
// the number of connections to each server that are checked out
// concurrently. Permits are handed out in the order in which checkouts
// were requested, meaning that starvation is prevented.
//
// Connections handed out by this pool return themselves to the pool
// once the response of a request sent over them settles. Successful
// responses cause the connection to be checked in, while failures and
// cancelation cause it to be destroyed.
func NewBoundedKeyedPool(factory transport.ConnectionFactory, config Configuration, clock clock.Clock, errorLogger util.ErrorLogger) BoundedKeyedPool {
	poolPrometheusMetrics.Do(func() {
		prometheus.MustRegister(poolCheckoutsTotal)
		prometheus.MustRegister(poolConnectionsDestroyedTotal)
		prometheus.MustRegister(poolCheckoutWaitDurationSeconds)
	})

	return &boundedKeyedPool{
		factory:     factory,
		config:      config,
		clock:       clock,
		errorLogger: errorLogger,
		servers:     map[topology.ServerInstance]*serverPool{},
	}
}

func (p *boundedKeyedPool) getServerPool(server topology.ServerInstance) (*serverPool, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, false
	}
	sp, ok := p.servers[server]
	if !ok {
		idle := eviction.NewSet[*pooledConnection](p.config.IdleConnectionEvictionPolicy)
		sp = &serverPool{
			permits:    semaphore.NewWeighted(p.config.MaximumConnectionsPerServer),
			idle:       eviction.NewMetricsSet(idle, "BoundedKeyedPoolIdleConnections"),
			checkedOut: map[*pooledConnection]struct{}{},
		}
		p.servers[server] = sp
	}
	return sp, true
}

// takeIdle removes an idle connection from the pool and marks it as
// checked out. The caller must hold a permit.
func (p *boundedKeyedPool) takeIdle(sp *serverPool) *pooledConnection {
	p.lock.Lock()
	defer p.lock.Unlock()
	conn := sp.removeIdle()
	if conn != nil {
		sp.checkedOut[conn] = struct{}{}
	}
	return conn
}

func (p *boundedKeyedPool) Checkout(server topology.ServerInstance) CheckoutFuture {
	sp, ok := p.getServerPool(server)
	if !ok {
		poolCheckoutsTotalFailed.Inc()
		return future.NewFailedFuture[topology.ServerInstance, transport.Connection](
			server,
			status.Errorf(codes.Unavailable, "Cannot check out connection to server %s, as the pool is closed", server))
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := future.NewPromise[topology.ServerInstance, transport.Connection](server, cancel)

	// Fast path: a permit and an idle connection are available.
	// Complete the checkout synchronously.
	if sp.permits.TryAcquire(1) {
		if conn := p.takeIdle(sp); conn != nil {
			poolCheckoutsTotalIdle.Inc()
			p.deliver(f, conn)
			return f
		}
		go p.createConnection(ctx, server, sp, f)
		return f
	}

	// Slow path: wait for a permit to become available.
	go func() {
		timeStart := p.clock.Now()
		if err := util.AcquireSemaphore(ctx, sp.permits, 1); err != nil {
			poolCheckoutsTotalFailed.Inc()
			f.Reject(util.StatusWrapf(err, "Failed to wait for connection to server %s", server))
			return
		}
		poolCheckoutWaitDurationSeconds.Observe(p.clock.Now().Sub(timeStart).Seconds())
		if conn := p.takeIdle(sp); conn != nil {
			poolCheckoutsTotalIdle.Inc()
			p.deliver(f, conn)
			return
		}
		p.createConnection(ctx, server, sp, f)
	}()
	return f
}

func (p *boundedKeyedPool) createConnection(ctx context.Context, server topology.ServerInstance, sp *serverPool, f *future.Promise[topology.ServerInstance, transport.Connection]) {
	base, err := p.factory.NewConnection(ctx, server)
	if err != nil {
		sp.permits.Release(1)
		poolCheckoutsTotalFailed.Inc()
		f.Reject(util.StatusWrapfWithCode(err, codes.Unavailable, "Failed to check out connection to server %s", server))
		return
	}
	poolCheckoutsTotalCreated.Inc()
	conn := &pooledConnection{
		pool: p,
		base: base,
	}
	p.lock.Lock()
	sp.checkedOut[conn] = struct{}{}
	p.lock.Unlock()
	p.deliver(f, conn)
}

// deliver hands out a connection that is already marked as checked
// out. If the checkout was canceled in the meantime, the connection is
// returned to the pool, as nobody else will.
func (p *boundedKeyedPool) deliver(f *future.Promise[topology.ServerInstance, transport.Connection], conn *pooledConnection) {
	if !f.Resolve(conn) {
		if err := p.Checkin(f.Key(), conn); err != nil {
			p.errorLogger.Log(util.StatusWrap(err, "Failed to return connection of canceled checkout"))
		}
	}
}

// release marks a connection as no longer being checked out, returning
// its permit.
func (p *boundedKeyedPool) release(server topology.ServerInstance, conn transport.Connection) (*serverPool, *pooledConnection, error) {
	pc, ok := conn.(*pooledConnection)
	if ok && pc.pool == p {
		if sp, ok := p.servers[server]; ok {
			if _, ok := sp.checkedOut[pc]; ok {
				delete(sp.checkedOut, pc)
				return sp, pc, nil
			}
		}
	}
	return nil, nil, status.Errorf(codes.FailedPrecondition, "Connection to server %s is not checked out from this pool", server)
}

func (p *boundedKeyedPool) closeConnection(conn *pooledConnection) error {
	poolConnectionsDestroyedTotal.Inc()
	return conn.base.Close()
}

func (p *boundedKeyedPool) Checkin(server topology.ServerInstance, conn transport.Connection) error {
	p.lock.Lock()
	sp, pc, err := p.release(server, conn)
	if err != nil {
		p.lock.Unlock()
		return err
	}
	var evicted *pooledConnection
	if p.closed || p.config.MaximumIdleConnectionsPerServer <= 0 {
		evicted = pc
	} else {
		sp.idle.Insert(pc)
		sp.idleCount++
		if sp.idleCount > p.config.MaximumIdleConnectionsPerServer {
			evicted = sp.removeIdle()
		}
	}
	p.lock.Unlock()

	sp.permits.Release(1)
	if evicted != nil {
		if err := p.closeConnection(evicted); err != nil {
			p.errorLogger.Log(util.StatusWrapf(err, "Failed to close idle connection to server %s", server))
		}
	}
	return nil
}

func (p *boundedKeyedPool) Destroy(server topology.ServerInstance, conn transport.Connection) error {
	p.lock.Lock()
	sp, pc, err := p.release(server, conn)
	p.lock.Unlock()
	if err != nil {
		return err
	}

	sp.permits.Release(1)
	if err := p.closeConnection(pc); err != nil {
		return util.StatusWrapf(err, "Failed to close connection to server %s", server)
	}
	return nil
}

func (p *boundedKeyedPool) Close() error {
	p.lock.Lock()
	p.closed = true
	var idle []*pooledConnection
	for _, sp := range p.servers {
		for conn := sp.removeIdle(); conn != nil; conn = sp.removeIdle() {
			idle = append(idle, conn)
		}
	}
	p.lock.Unlock()

	var group errgroup.Group
	for _, conn := range idle {
		conn := conn
		group.Go(func() error {
			if err := p.closeConnection(conn); err != nil {
				return util.StatusWrapf(err, "Failed to close idle connection to server %s", conn.Server())
			}
			return nil
		})
	}
	return group.Wait()
}

// pooledConnection is a connection that is owned by a pool. Once the
// response to a request sent over it settles, it returns itself to the
// pool.
type pooledConnection struct {
	pool *boundedKeyedPool
	base transport.Connection
}

func (c *pooledConnection) Server() topology.ServerInstance {
	return c.base.Server()
}

func (c *pooledConnection) SendRequest(ctx context.Context, request []byte, requestID string, timeout time.Duration) (transport.ResponseFuture, error) {
	f, err := c.base.SendRequest(ctx, request, requestID, timeout)
	if err != nil {
		return nil, err
	}
	server := c.Server()
	f.AddListener(func() {
		if _, err := f.Get(); err == nil {
			if err := c.pool.Checkin(server, c); err != nil {
				c.pool.errorLogger.Log(util.StatusWrap(err, "Failed to check in connection after response"))
			}
		} else if err := c.pool.Destroy(server, c); err != nil {
			c.pool.errorLogger.Log(util.StatusWrap(err, "Failed to destroy connection after failed response"))
		}
	})
	return f, nil
}

func (c *pooledConnection) Close() error {
	return c.base.Close()
}
