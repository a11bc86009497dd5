package recovery

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bft-labs/plotline/pkg/log"
)

// DefaultSignals are trapped by HandleSignals when none are given.
var DefaultSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// HandleSignals runs ShutdownAll(ReasonSignal) on the first trapped signal and
// then calls onSignal, if set, so the caller can stop the process. The
// returned stop func releases the signal handler; it is safe to call more
// than once.
func (c *Coordinator) HandleSignals(ctx context.Context, onSignal func(os.Signal), sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = DefaultSignals
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-ch:
			c.logger.Warn("signal received, shutting down jobs", log.String("signal", sig.String()))
			c.ShutdownAll(ReasonSignal)
			if onSignal != nil {
				onSignal(sig)
			}
		case <-ctx.Done():
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			wg.Wait()
		})
	}
}
