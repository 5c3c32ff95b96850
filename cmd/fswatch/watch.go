package main

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"fswatch/internal/abort"
	"fswatch/internal/fswatch"
	"fswatch/internal/logging"
	"fswatch/internal/stream"
	"fswatch/internal/watcher"

	"github.com/cenkalti/backoff/v4"
)

const drainTimeout = 2 * time.Second

type watchRunner struct {
	Watcher *fswatch.Watcher
	Printer *printer
	Logger  *logging.Logger
	// Drain bounds the wait for persistent handles at exit.
	Drain   context.Context

	Retry           bool
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
}

// Run watches every spec until each persistent watch has ended, then aborts
// the rest. It returns the first watch error that was not retried away.
func (runner *watchRunner) Run(ctx context.Context, specs []watchSpec) error {
	controller := abort.NewController()
	stop := context.AfterFunc(ctx, func() {
		controller.Abort(context.Cause(ctx))
	})
	defer stop()

	var persistent sync.WaitGroup
	var mutex sync.Mutex
	var firstErr error
	record := func(err error) {
		mutex.Lock()
		defer mutex.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, spec := range specs {
		spec := spec
		if spec.Persistent {
			persistent.Add(1)
		}
		go func() {
			if spec.Persistent {
				defer persistent.Done()
			}
			if err := runner.watch(ctx, spec, controller.Signal()); err != nil {
				runner.Logger.Error("watch ended with error", map[string]string{
					"path":  spec.Path,
					"error": err.Error(),
				})
				record(err)
			}
		}()
	}

	persistent.Wait()
	controller.Abort(nil)

	drain := runner.Drain
	if drain == nil {
		drain = context.Background()
	}
	drainCtx, cancel := context.WithTimeout(drain, drainTimeout)
	defer cancel()
	if err := watcher.WaitPersistent(drainCtx); err != nil {
		runner.Logger.Warn("persistent watches still open at exit", map[string]string{
			"count": strconv.Itoa(watcher.ActivePersistent()),
		})
	}

	mutex.Lock()
	defer mutex.Unlock()
	return firstErr
}

func (runner *watchRunner) watch(ctx context.Context, spec watchSpec, signal *abort.Signal) error {
	if !runner.Retry {
		return runner.watchOnce(spec, signal)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = runner.RetryInitial
	policy.MaxInterval = runner.RetryMax
	policy.MaxElapsedTime = runner.RetryMaxElapsed

	err := backoff.RetryNotify(func() error {
		err := runner.watchOnce(spec, signal)
		if err != nil && errors.Is(err, watcher.ErrUnknownEncoding) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		runner.Logger.Warn("watch failed, resubscribing", map[string]string{
			"path":  spec.Path,
			"error": err.Error(),
			"wait":  wait.String(),
		})
	})
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// watchOnce holds one subscription until it terminates.
func (runner *watchRunner) watchOnce(spec watchSpec, signal *abort.Signal) error {
	done := make(chan error, 1)
	observable := runner.Watcher.Watch(spec.Path, fswatch.Options{
		Encoding:   fswatch.Encoding(spec.Encoding),
		Persistent: fswatch.Bool(spec.Persistent),
		Recursive:  spec.Recursive,
		Signal:     signal,
	})
	subscription := observable.Subscribe(stream.Observer[fswatch.Event]{
		Next: func(event fswatch.Event) {
			if err := runner.Printer.print(spec, event); err != nil {
				runner.Logger.Warn("write event failed", map[string]string{"error": err.Error()})
			}
		},
		Error: func(err error) {
			done <- err
		},
		Complete: func() {
			done <- nil
		},
	})
	defer subscription.Unsubscribe()
	return <-done
}
