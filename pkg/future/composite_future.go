package future

import (
	"context"
	"sync"

	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GatherMode determines how a CompositeFuture responds to failures of
// its constituents.
type GatherMode int

const (
	// GatherModeShortCircuitAnd causes the composite to fail as soon
	// as one constituent fails. All remaining constituents are
	// canceled.
	GatherModeShortCircuitAnd GatherMode = iota
	// GatherModeAnd waits for all constituents to complete. The
	// composite fails if one or more constituents failed.
	GatherModeAnd
	// GatherModeIgnore waits for all constituents to complete. The
	// composite never fails on behalf of its constituents. Errors
	// can still be obtained through Errors().
	GatherModeIgnore
)

func (m GatherMode) String() string {
	switch m {
	case GatherModeShortCircuitAnd:
		return "SHORTCIRCUIT_AND"
	case GatherModeAnd:
		return "AND"
	case GatherModeIgnore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

// NewGatherModeFromConfiguration converts the name of a gather mode, as
// it appears in configuration files and requests, to a GatherMode. An
// empty name selects GatherModeShortCircuitAnd.
func NewGatherModeFromConfiguration(name string) (GatherMode, error) {
	switch name {
	case "", "SHORTCIRCUIT_AND":
		return GatherModeShortCircuitAnd, nil
	case "AND":
		return GatherModeAnd, nil
	case "IGNORE":
		return GatherModeIgnore, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Unknown gather mode %#v", name)
	}
}

// CompositeFuture combines a set of keyed futures into a single
// future, yielding the results of all constituents keyed by their key.
// Constituents may complete in any order.
type CompositeFuture[K comparable, T any] struct {
	name string
	mode GatherMode

	lock      sync.Mutex
	started   bool
	settled   bool
	futures   []KeyedFuture[K, T]
	pending   int
	responses map[K]T
	errors    map[K]error
	firstErr  error
	err       error
	listeners []func()
	done      chan struct{}
}

// NewCompositeFuture creates a CompositeFuture that has no
// constituents yet. Start() must be called to provide them.
func NewCompositeFuture[K comparable, T any](name string, mode GatherMode) *CompositeFuture[K, T] {
	return &CompositeFuture[K, T]{
		name:      name,
		mode:      mode,
		responses: map[K]T{},
		errors:    map[K]error{},
		done:      make(chan struct{}),
	}
}

// settleLocked marks the composite as completed. The caller must hold
// the lock, and must invoke the returned listeners after releasing it.
func (c *CompositeFuture[K, T]) settleLocked(err error) []func() {
	c.settled = true
	c.err = err
	close(c.done)
	listeners := c.listeners
	c.listeners = nil
	return listeners
}

func runListeners(listeners []func()) {
	for _, listener := range listeners {
		listener()
	}
}

// Start the composite by providing its constituents. This function
// may only be called once. If the composite was already canceled or
// aborted, the constituents are canceled immediately.
func (c *CompositeFuture[K, T]) Start(futures []KeyedFuture[K, T]) {
	c.lock.Lock()
	if c.started {
		c.lock.Unlock()
		panic("Attempted to start composite future " + c.name + " twice")
	}
	c.started = true
	c.futures = futures
	if c.settled {
		c.lock.Unlock()
		for _, f := range futures {
			f.Cancel()
		}
		return
	}
	c.pending = len(futures)
	var listeners []func()
	if c.pending == 0 {
		listeners = c.settleLocked(nil)
	}
	c.lock.Unlock()
	runListeners(listeners)

	// Registration must happen without holding the lock, as
	// listeners of futures that already settled run immediately.
	for _, f := range futures {
		f := f
		f.AddListener(func() { c.onConstituentSettled(f) })
	}
}

func (c *CompositeFuture[K, T]) onConstituentSettled(f KeyedFuture[K, T]) {
	value, err := f.Get()
	key := f.Key()

	c.lock.Lock()
	if c.settled {
		c.lock.Unlock()
		return
	}
	c.pending--
	if err != nil {
		err = util.StatusWrapf(err, "Server %v", key)
		c.errors[key] = err
		if c.firstErr == nil {
			c.firstErr = err
		}
	} else {
		c.responses[key] = value
	}

	var listeners []func()
	var toCancel []KeyedFuture[K, T]
	if err != nil && c.mode == GatherModeShortCircuitAnd {
		listeners = c.settleLocked(err)
		toCancel = c.futures
	} else if c.pending == 0 {
		var finalErr error
		if c.mode == GatherModeAnd {
			finalErr = c.firstErr
		}
		listeners = c.settleLocked(finalErr)
	}
	c.lock.Unlock()

	for _, other := range toCancel {
		other.Cancel()
	}
	runListeners(listeners)
}

// Cancel the composite and all of its constituents that are still
// pending.
func (c *CompositeFuture[K, T]) Cancel() bool {
	return c.Abort(status.Errorf(codes.Canceled, "Composite future %s canceled", c.name))
}

// Abort the composite with a custom error, canceling all of its
// constituents that are still pending. False is returned if the
// composite had already completed.
func (c *CompositeFuture[K, T]) Abort(err error) bool {
	c.lock.Lock()
	if c.settled {
		c.lock.Unlock()
		return false
	}
	listeners := c.settleLocked(err)
	futures := c.futures
	c.lock.Unlock()

	for _, f := range futures {
		f.Cancel()
	}
	runListeners(listeners)
	return true
}

// Done returns a channel that is closed once the composite completes.
func (c *CompositeFuture[K, T]) Done() <-chan struct{} {
	return c.done
}

// Wait for the composite to complete, or for the context to be done,
// whichever happens first. The error of the composite is returned.
func (c *CompositeFuture[K, T]) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.lock.Lock()
		defer c.lock.Unlock()
		return c.err
	case <-ctx.Done():
		return util.StatusFromContext(ctx)
	}
}

// Get blocks until the composite completes, returning the successful
// responses and the error of the composite.
func (c *CompositeFuture[K, T]) Get() (map[K]T, error) {
	<-c.done
	c.lock.Lock()
	err := c.err
	c.lock.Unlock()
	return c.Responses(), err
}

// AddListener registers a function that is invoked once the composite
// completes.
func (c *CompositeFuture[K, T]) AddListener(listener func()) {
	c.lock.Lock()
	if !c.settled {
		c.listeners = append(c.listeners, listener)
		c.lock.Unlock()
		return
	}
	c.lock.Unlock()
	listener()
}

// Responses returns the successful responses collected so far.
func (c *CompositeFuture[K, T]) Responses() map[K]T {
	c.lock.Lock()
	defer c.lock.Unlock()
	responses := make(map[K]T, len(c.responses))
	for k, v := range c.responses {
		responses[k] = v
	}
	return responses
}

// Errors returns the errors of constituents collected so far.
func (c *CompositeFuture[K, T]) Errors() map[K]error {
	c.lock.Lock()
	defer c.lock.Unlock()
	errs := make(map[K]error, len(c.errors))
	for k, v := range c.errors {
		errs[k] = v
	}
	return errs
}

// NumFutures returns the number of constituents of the composite.
func (c *CompositeFuture[K, T]) NumFutures() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.futures)
}

// Name returns the name with which the composite was created.
func (c *CompositeFuture[K, T]) Name() string {
	return c.name
}
