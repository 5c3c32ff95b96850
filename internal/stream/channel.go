package stream

import (
	"context"
	"sync"
)

// Stream subscribes and exposes the notifications as channels. The item
// channel is closed when the subscription ends; the error channel carries the
// terminal error, if any, and is closed right after. Cancelling ctx
// unsubscribes without reporting an error.
func (observable *Observable[T]) Stream(ctx context.Context, buffer int) (<-chan T, <-chan error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(ctx)

	out := make(chan T, buffer)
	errs := make(chan error, 1)

	var mutex sync.Mutex
	finished := false
	finish := func(err error) {
		mutex.Lock()
		defer mutex.Unlock()
		if finished {
			return
		}
		finished = true
		if err != nil {
			errs <- err
		}
		close(out)
		close(errs)
	}

	subscription := observable.Subscribe(Observer[T]{
		Next: func(value T) {
			mutex.Lock()
			defer mutex.Unlock()
			if finished {
				return
			}
			select {
			case out <- value:
			case <-ctx.Done():
			}
		},
		Error: func(err error) {
			finish(err)
			cancel()
		},
		Complete: func() {
			finish(nil)
			cancel()
		},
	})

	context.AfterFunc(ctx, func() {
		subscription.Unsubscribe()
		finish(nil)
	})

	return out, errs
}
