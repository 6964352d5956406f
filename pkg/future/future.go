package future

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Future is a handle to the result of an asynchronous operation.
type Future[T any] interface {
	// Done returns a channel that is closed once the future has
	// settled, either successfully, with an error, or by being
	// canceled.
	Done() <-chan struct{}

	// Get blocks until the future has settled and returns its
	// outcome.
	Get() (T, error)

	// Cancel the operation. True is returned if the future was
	// still pending, meaning that this call caused it to settle.
	Cancel() bool

	// AddListener registers a function that is invoked once the
	// future settles. If the future has already settled, the
	// listener is invoked immediately on the calling goroutine.
	// Otherwise, it is invoked on the goroutine that settles the
	// future.
	AddListener(listener func())
}

// KeyedFuture is a Future that is associated with a key, such as the
// server from which a result is obtained.
type KeyedFuture[K comparable, T any] interface {
	Future[T]

	Key() K
}

// Promise is the producer side of a KeyedFuture. The producer of a
// result calls Resolve() or Reject(), while consumers use the methods
// of KeyedFuture.
type Promise[K comparable, T any] struct {
	key      K
	onCancel func()

	lock      sync.Mutex
	settled   bool
	value     T
	err       error
	listeners []func()
	done      chan struct{}
}

// NewPromise creates a new pending Promise. The onCancel function is
// invoked when the promise is canceled while pending. It can be used
// to abort the operation producing the result. It may be nil.
func NewPromise[K comparable, T any](key K, onCancel func()) *Promise[K, T] {
	return &Promise[K, T]{
		key:      key,
		onCancel: onCancel,
		done:     make(chan struct{}),
	}
}

// NewFailedFuture creates a KeyedFuture that has already settled with
// an error.
func NewFailedFuture[K comparable, T any](key K, err error) KeyedFuture[K, T] {
	p := NewPromise[K, T](key, nil)
	p.Reject(err)
	return p
}

// NewSucceededFuture creates a KeyedFuture that has already settled
// with a value.
func NewSucceededFuture[K comparable, T any](key K, value T) KeyedFuture[K, T] {
	p := NewPromise[K, T](key, nil)
	p.Resolve(value)
	return p
}

// settle stores the outcome of the promise. False is returned if the
// promise was already settled, in which case the outcome is discarded.
func (p *Promise[K, T]) settle(value T, err error) bool {
	p.lock.Lock()
	if p.settled {
		p.lock.Unlock()
		return false
	}
	p.settled = true
	p.value = value
	p.err = err
	listeners := p.listeners
	p.listeners = nil
	close(p.done)
	p.lock.Unlock()

	for _, listener := range listeners {
		listener()
	}
	return true
}

// Resolve the promise with a value. False is returned if the promise
// had already settled, for example because it was canceled. In that
// case the caller remains the owner of the value.
func (p *Promise[K, T]) Resolve(value T) bool {
	return p.settle(value, nil)
}

// Reject the promise with an error. False is returned if the promise
// had already settled.
func (p *Promise[K, T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

// Key returns the key with which the promise was created.
func (p *Promise[K, T]) Key() K {
	return p.key
}

// Done returns a channel that is closed once the promise settles.
func (p *Promise[K, T]) Done() <-chan struct{} {
	return p.done
}

// Get blocks until the promise has settled, returning its outcome.
func (p *Promise[K, T]) Get() (T, error) {
	<-p.done
	return p.value, p.err
}

// Cancel the promise, settling it with a Canceled error if it is still
// pending.
func (p *Promise[K, T]) Cancel() bool {
	var zero T
	if !p.settle(zero, status.Error(codes.Canceled, "Operation canceled")) {
		return false
	}
	if p.onCancel != nil {
		p.onCancel()
	}
	return true
}

// AddListener registers a function that is called when the promise
// settles.
func (p *Promise[K, T]) AddListener(listener func()) {
	p.lock.Lock()
	if !p.settled {
		p.listeners = append(p.listeners, listener)
		p.lock.Unlock()
		return
	}
	p.lock.Unlock()
	listener()
}
