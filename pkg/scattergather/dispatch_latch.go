package scattergather

import (
	"sync/atomic"
)

// dispatchLatch is a countdown latch that is used by the dispatch
// handlers of a request to report that they are done sending. The
// channel returned by done() is closed once every handler counted
// down.
type dispatchLatch struct {
	remaining atomic.Int64
	doneChan  chan struct{}
}

func newDispatchLatch(count int) *dispatchLatch {
	l := &dispatchLatch{
		doneChan: make(chan struct{}),
	}
	l.remaining.Store(int64(count))
	if count == 0 {
		close(l.doneChan)
	}
	return l
}

func (l *dispatchLatch) countDown() {
	switch remaining := l.remaining.Add(-1); {
	case remaining == 0:
		close(l.doneChan)
	case remaining < 0:
		panic("Dispatch latch counted down more often than the number of handlers")
	}
}

func (l *dispatchLatch) done() <-chan struct{} {
	return l.doneChan
}
