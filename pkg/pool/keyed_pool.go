package pool

import (
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/transport"
)

// CheckoutFuture is a handle to a pending connection checkout.
//
// Canceling a checkout that has not completed yet guarantees that the
// connection is never handed out. If the checkout completed before the
// cancelation took effect, the caller owns the connection and must
// check it in or destroy it.
type CheckoutFuture = future.KeyedFuture[topology.ServerInstance, transport.Connection]

// KeyedPool is a pool of connections, keyed by the server to which
// they are established. Implementations must permit concurrent use.
type KeyedPool interface {
	// Checkout obtains a connection to a server asynchronously.
	Checkout(server topology.ServerInstance) CheckoutFuture

	// Checkin returns a healthy connection to the pool, so that it
	// may be reused.
	Checkin(server topology.ServerInstance, conn transport.Connection) error

	// Destroy removes a connection from the pool and closes it. It
	// should be called for connections whose state is unknown, for
	// example because sending a request failed.
	Destroy(server topology.ServerInstance, conn transport.Connection) error
}
