// Package abort provides a one-shot cancellation token that callers can hand to
// long-lived operations, independent of any particular context tree.
package abort

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is the reason recorded when Abort is called without one.
var ErrAborted = errors.New("operation aborted")

// Signal is the read side of an abort token. The zero value is never aborted.
type Signal struct {
	mu        sync.Mutex
	aborted   bool
	reason    error
	listeners map[uint64]func(error)
	nextID    uint64
	done      chan struct{}
}

// Controller owns a Signal and is the only way to fire it.
type Controller struct {
	signal *Signal
}

// NewController creates a controller with a fresh signal.
func NewController() *Controller {
	return &Controller{signal: newSignal()}
}

// Signal returns the controller's signal.
func (controller *Controller) Signal() *Signal {
	if controller == nil {
		return nil
	}
	return controller.signal
}

// Abort fires the signal. Only the first call has an effect.
func (controller *Controller) Abort(reason error) {
	if controller == nil {
		return
	}
	controller.signal.abort(reason)
}

// Aborted returns a signal that has already fired with reason.
func Aborted(reason error) *Signal {
	signal := newSignal()
	signal.abort(reason)
	return signal
}

// FromContext returns a signal that fires with context.Cause(ctx) once ctx is done.
func FromContext(ctx context.Context) *Signal {
	signal := newSignal()
	if ctx == nil {
		return signal
	}
	context.AfterFunc(ctx, func() {
		signal.abort(context.Cause(ctx))
	})
	return signal
}

func newSignal() *Signal {
	return &Signal{
		listeners: make(map[uint64]func(error)),
		done:      make(chan struct{}),
	}
}

// Aborted reports whether the signal has fired.
func (signal *Signal) Aborted() bool {
	if signal == nil {
		return false
	}
	signal.mu.Lock()
	defer signal.mu.Unlock()
	return signal.aborted
}

// Reason returns the abort reason, or nil while the signal has not fired.
func (signal *Signal) Reason() error {
	if signal == nil {
		return nil
	}
	signal.mu.Lock()
	defer signal.mu.Unlock()
	return signal.reason
}

// Done returns a channel closed when the signal fires. A nil signal never fires.
func (signal *Signal) Done() <-chan struct{} {
	if signal == nil {
		return nil
	}
	signal.mu.Lock()
	defer signal.mu.Unlock()
	if signal.done == nil {
		signal.done = make(chan struct{})
	}
	return signal.done
}

// OnAbort arranges for fn to be called once, in its own goroutine, when the
// signal fires. If the signal has already fired, fn is started immediately.
//
// Calling stop unregisters fn. stop returns true if the call stopped fn from
// being run and false if fn was already started or stop was already called.
func (signal *Signal) OnAbort(fn func(reason error)) (stop func() bool) {
	if signal == nil || fn == nil {
		return func() bool { return false }
	}

	signal.mu.Lock()
	if signal.aborted {
		reason := signal.reason
		signal.mu.Unlock()
		go fn(reason)
		return func() bool { return false }
	}
	if signal.listeners == nil {
		signal.listeners = make(map[uint64]func(error))
	}
	signal.nextID++
	id := signal.nextID
	signal.listeners[id] = fn
	signal.mu.Unlock()

	return func() bool {
		return signal.removeListener(id)
	}
}

// ListenerCount reports how many listeners are still registered.
func (signal *Signal) ListenerCount() int {
	if signal == nil {
		return 0
	}
	signal.mu.Lock()
	defer signal.mu.Unlock()
	return len(signal.listeners)
}

func (signal *Signal) removeListener(id uint64) bool {
	signal.mu.Lock()
	defer signal.mu.Unlock()
	if _, ok := signal.listeners[id]; !ok {
		return false
	}
	delete(signal.listeners, id)
	return true
}

func (signal *Signal) abort(reason error) {
	if reason == nil {
		reason = ErrAborted
	}

	signal.mu.Lock()
	if signal.aborted {
		signal.mu.Unlock()
		return
	}
	signal.aborted = true
	signal.reason = reason
	listeners := signal.listeners
	signal.listeners = nil
	if signal.done == nil {
		signal.done = make(chan struct{})
	}
	close(signal.done)
	signal.mu.Unlock()

	for _, listener := range listeners {
		go listener(reason)
	}
}
