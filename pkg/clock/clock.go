package clock

import (
	"context"
	"time"
)

// Clock abstracts the time handling functions of the standard library,
// so that deadline tracking in the dispatch engine and the connection
// pool can be exercised deterministically by unit tests.
type Clock interface {
	// Now returns the current time of day. Equivalent to time.Now().
	Now() time.Time

	// NewContextWithTimeout creates a Context that is canceled
	// automatically after a certain amount of time. Equivalent to
	// context.WithTimeout().
	NewContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc)

	// NewTimer creates a channel that publishes the time of day
	// once the provided duration has elapsed. Unlike
	// time.NewTimer(), the channel is returned separately, so that
	// Timer can be an interface.
	NewTimer(d time.Duration) (Timer, <-chan time.Time)
}

// Timer is the subset of time.Timer that is used by this module.
type Timer interface {
	Stop() bool
}
