package main

import (
	"context"
	"fmt"
	"os"

	"fswatch/internal/logging"
)

// shutdownSignals turns OS signals into the two stages of a watch shutdown.
// The first signal stops every watch, which aborts the subscriptions and lets
// persistent handles close on their own. A second signal cuts the drain short
// so the process exits without waiting for handles that are slow to close.
type shutdownSignals struct {
	Logger *logging.Logger
	// Stop ends the run; the signal becomes its cause.
	Stop context.CancelCauseFunc
	// Force abandons draining.
	Force context.CancelFunc
}

// listen handles signals until the returned func is called or signalCh closes.
func (shutdown shutdownSignals) listen(signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				received++
				shutdown.handle(received, sig)
			}
		}
	}()

	return func() {
		close(done)
	}
}

func (shutdown shutdownSignals) handle(received int, sig os.Signal) {
	fields := map[string]string{"signal": fmt.Sprint(sig)}
	switch received {
	case 1:
		shutdown.log("stopping watches", fields)
		if shutdown.Stop != nil {
			shutdown.Stop(fmt.Errorf("received signal %v", sig))
		}
	case 2:
		shutdown.log("second signal, not waiting for watches to drain", fields)
		if shutdown.Force != nil {
			shutdown.Force()
		}
	}
}

func (shutdown shutdownSignals) log(message string, fields map[string]string) {
	if shutdown.Logger != nil {
		shutdown.Logger.Info(message, fields)
	}
}
