package program

import (
	"context"
	"sync"
)

// runLocalErrorLogger retains the first error returned by a routine
// started by RunLocal() and cancels all other routines.
type runLocalErrorLogger struct {
	once     sync.Once
	firstErr error
	cancel   context.CancelFunc
}

func (el *runLocalErrorLogger) Log(err error) {
	el.once.Do(func() {
		el.firstErr = err
		el.cancel()
	})
}

// RunLocal runs a routine and everything it spawns until all of them
// have completed, returning the first error that occurred. It behaves
// like errgroup.Group, except that routines are organized into the
// same hierarchy of siblings and dependencies as used by RunMain().
func RunLocal(ctx context.Context, routine Routine) error {
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errorLogger := &runLocalErrorLogger{
		cancel: cancel,
	}
	run(innerCtx, errorLogger, routine)
	errorLogger.once.Do(func() {})
	return errorLogger.firstErr
}
