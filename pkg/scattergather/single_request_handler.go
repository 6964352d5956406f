package scattergather

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/pool"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/transport"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type handlerState int

const (
	// Waiting for the connection checkout to complete.
	handlerStateCreated handlerState = iota
	// The request was sent over the connection.
	handlerStateSent
	// The checkout failed, or the request could not be serialized
	// or sent.
	handlerStateSendFailed
	// Canceled before the request could be sent.
	handlerStateCheckoutCancelled
	// Canceled after the request was sent. The response was
	// canceled as well.
	handlerStateCancelledAfterSend
)

// singleRequestHandler sends the request to a single server once a
// connection to it has been checked out of the pool.
//
// onCheckoutReady() and cancel() are serialized by a mutex. Exactly one
// of them counts down the dispatch latch, which happens exactly once.
// If a connection is obtained after the handler is canceled, it is
// checked back in without being used.
type singleRequestHandler struct {
	ctx         context.Context
	pool        pool.KeyedPool
	server      topology.ServerInstance
	segments    *topology.SegmentIDSet
	request     Request
	timeout     time.Duration
	latch       *dispatchLatch
	checkout    pool.CheckoutFuture
	errorLogger util.ErrorLogger

	lock     sync.Mutex
	state    handlerState
	response transport.ResponseFuture
}

func (h *singleRequestHandler) onCheckoutReady() {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.state != handlerStateCreated {
		// The checkout completed while the handler was being
		// canceled. Return the connection without using it.
		if conn, err := h.checkout.Get(); err == nil {
			if err := h.pool.Checkin(h.server, conn); err != nil {
				h.errorLogger.Log(util.StatusWrapf(err, "Request %s: Failed to check in unused connection to server %s", h.request.RequestID(), h.server))
			}
		}
		return
	}

	defer h.latch.countDown()
	response, err := h.send()
	if err != nil {
		h.state = handlerStateSendFailed
		h.response = future.NewFailedFuture[topology.ServerInstance, []byte](h.server, err)
		return
	}
	h.state = handlerStateSent
	h.response = response
}

// send the request over the connection that was checked out. The
// connection is released on every path that does not hand it over to
// the transport.
func (h *singleRequestHandler) send() (transport.ResponseFuture, error) {
	conn, err := h.checkout.Get()
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to check out connection")
	}

	payload, err := h.serialize()
	if err != nil {
		if err := h.pool.Checkin(h.server, conn); err != nil {
			h.errorLogger.Log(util.StatusWrapf(err, "Request %s: Failed to check in connection to server %s", h.request.RequestID(), h.server))
		}
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to serialize request")
	}

	response, err := h.sendOverConnection(conn, payload)
	if err != nil {
		if err := h.pool.Destroy(h.server, conn); err != nil {
			h.errorLogger.Log(util.StatusWrapf(err, "Request %s: Failed to destroy connection to server %s", h.request.RequestID(), h.server))
		}
		return nil, util.StatusWrap(err, "Failed to send request")
	}
	return response, nil
}

func (h *singleRequestHandler) serialize() (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, status.Errorf(codes.Internal, "Serializer panicked: %v", r)
		}
	}()
	return h.request.RequestForServer(h.server, h.segments)
}

func (h *singleRequestHandler) sendOverConnection(conn transport.Connection, payload []byte) (response transport.ResponseFuture, err error) {
	defer func() {
		if r := recover(); r != nil {
			response, err = nil, status.Errorf(codes.Internal, "Transport panicked: %v", r)
		}
	}()
	response, err = conn.SendRequest(h.ctx, payload, h.request.RequestID(), h.timeout)
	if err == nil && response == nil {
		err = status.Error(codes.Internal, "Transport returned no response")
	}
	return
}

// cancel the handler. If the request has not been sent yet, the
// checkout is canceled. Otherwise the response is canceled, which
// causes the connection to be released by the transport.
func (h *singleRequestHandler) cancel() {
	h.cancelWith(true)
}

// cancelIfNotSent is identical to cancel(), except that it leaves
// handlers that already sent their request alone.
func (h *singleRequestHandler) cancelIfNotSent() {
	h.cancelWith(false)
}

func (h *singleRequestHandler) cancelWith(includeSent bool) {
	h.lock.Lock()
	switch h.state {
	case handlerStateCreated:
		h.state = handlerStateCheckoutCancelled
		h.lock.Unlock()
		h.latch.countDown()
		// Canceling the checkout may invoke onCheckoutReady()
		// synchronously, so it must be done without holding
		// the lock.
		h.checkout.Cancel()
	case handlerStateSent:
		if !includeSent {
			h.lock.Unlock()
			return
		}
		h.state = handlerStateCancelledAfterSend
		response := h.response
		h.lock.Unlock()
		response.Cancel()
	default:
		h.lock.Unlock()
	}
}

func (h *singleRequestHandler) getState() handlerState {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

func (h *singleRequestHandler) getResponse() transport.ResponseFuture {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.response
}
