package program

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

// runMainErrorLogger captures errors returned by the routines started
// by RunMain(). The first error initiates shutdown with exit code 1.
type runMainErrorLogger struct {
	shutdownStarted sync.Once
	shutdownFunc    func()
	cancel          context.CancelFunc
}

func (el *runMainErrorLogger) Log(err error) {
	log.Print("Fatal error: ", err)
	el.startShutdown(func() {
		os.Exit(1)
	})
}

func (el *runMainErrorLogger) startShutdown(shutdownFunc func()) {
	el.shutdownStarted.Do(func() {
		el.shutdownFunc = shutdownFunc
		el.cancel()
	})
}

// reraiseSignal terminates the process with the signal that caused it
// to shut down, so that the parent observes the original cause.
func reraiseSignal(receivedSignal os.Signal) {
	if runtime.GOOS != "windows" {
		signal.Reset(receivedSignal)
		if process, err := os.FindProcess(os.Getpid()); err == nil && process.Signal(receivedSignal) == nil {
			// Delivery is asynchronous and may target
			// another thread.
			time.Sleep(5 * time.Second)
		}
	}
	os.Exit(1)
}

// RunMain runs the routines of a long-running process, such as the
// HTTP servers and connection pool of the broker. The process
// terminates when:
//
//   - all routines have completed, with exit code 0,
//   - a routine returns an error, with exit code 1, or
//   - SIGINT or SIGTERM is received, in which case the signal is raised
//     again once all routines have been shut down.
//
// Routines are canceled in dependency order, meaning that a connection
// pool registered as a dependency is only closed after the servers
// using it have stopped.
func RunMain(routine Routine) {
	ctx, cancel := context.WithCancel(context.Background())
	errorLogger := &runMainErrorLogger{
		cancel: cancel,
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		receivedSignal := <-signalChan
		log.Printf("Received %#v signal. Initiating graceful shutdown.", receivedSignal.String())
		errorLogger.startShutdown(func() {
			reraiseSignal(receivedSignal)
		})
	}()

	run(ctx, errorLogger, routine)

	errorLogger.startShutdown(func() {
		os.Exit(0)
	})
	errorLogger.shutdownFunc()
}
