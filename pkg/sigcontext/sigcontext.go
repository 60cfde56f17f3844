package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// WithSignalCancel is a context that will cancel itself when a signal is sent
// to the process. The cancel function returned is responsible for freeing the
// signal handlers used and must be called. One-shot commands use it so that
// an interrupted transfer or activation subprocess is killed.
func WithSignalCancel(ctx context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	cancel := func() {
		ctxcancel()
		once.Do(func() {
			signal.Stop(sigchan)
		})
	}

	go func() {
		select {
		case <-sigctx.Done():
		case <-sigchan:
			ctxcancel()
		}
	}()

	return sigctx, cancel
}
