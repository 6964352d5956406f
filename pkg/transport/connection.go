package transport

import (
	"context"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
)

// ResponseFuture is a handle to the response of a request sent to a
// single server. Responses are opaque byte payloads that are
// interpreted by the storage and aggregation layers.
type ResponseFuture = future.KeyedFuture[topology.ServerInstance, []byte]

// Connection to a single storage server.
type Connection interface {
	// Server returns the server to which the connection is
	// established.
	Server() topology.ServerInstance

	// SendRequest sends a serialized request over the connection.
	// The returned future settles once a response has been received,
	// the timeout has elapsed, or the future has been canceled. A
	// negative timeout means that no timeout is applied.
	//
	// Cancelation of the provided context does not affect the
	// request once this function has returned. Values such as trace
	// spans are retained.
	//
	// A non-nil error is only returned if the request could not be
	// sent at all. The state of the connection is unknown after
	// that.
	SendRequest(ctx context.Context, request []byte, requestID string, timeout time.Duration) (ResponseFuture, error)

	// Close the connection, releasing its resources.
	Close() error
}

// ConnectionFactory establishes new connections to servers.
type ConnectionFactory interface {
	NewConnection(ctx context.Context, server topology.ServerInstance) (Connection, error)
}
