// Package fswatch turns a native filesystem watch into a cold stream of change
// events.
//
// Nothing is opened until the returned observable is subscribed to, and every
// subscription opens its own native handle. A native error ends the stream
// with that error; a native close, an unsubscribe or a fired abort signal ends
// it quietly.
package fswatch

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"

	"fswatch/internal/logging"
	"fswatch/internal/metrics"
	"fswatch/internal/stream"
	"fswatch/internal/watcher"
)

const (
	Rename = watcher.EventRename
	Change = watcher.EventChange
)

// Event is one change reported for a watched path.
type Event struct {
	Kind watcher.EventKind
	Name watcher.Filename
}

func (event Event) String() string {
	return string(event.Kind) + " " + event.Name.String()
}

// Opener starts a native watch. watcher.Open is the default.
type Opener func(path string, options watcher.Options, handlers watcher.Handlers) (watcher.Handle, error)

type WatcherOptions struct {
	Opener  Opener
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Watcher builds watch observables over an Opener.
type Watcher struct {
	opener  Opener
	logger  *logging.Logger
	metrics *metrics.Registry
}

func New(options WatcherOptions) *Watcher {
	opener := options.Opener
	if opener == nil {
		opener = openNative
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Watcher{
		opener:  opener,
		logger:  logger.Category("fswatch"),
		metrics: registry,
	}
}

var defaultWatcher = New(WatcherOptions{})

// Watch returns a cold observable of changes to path using the native watcher.
func Watch(path string, options OptionsValue) *stream.Observable[Event] {
	return defaultWatcher.Watch(path, options)
}

// Watch returns a cold observable of changes to path. path may be a file: URL.
// Errors, including a path that cannot be watched, are reported through the
// stream once subscribed.
func (w *Watcher) Watch(path string, options OptionsValue) *stream.Observable[Event] {
	config := Resolve(options)
	return stream.New(func(subscriber *stream.Subscriber[Event]) stream.TeardownFunc {
		return w.subscribe(path, config, subscriber)
	})
}

func (w *Watcher) subscribe(path string, config Config, subscriber *stream.Subscriber[Event]) stream.TeardownFunc {
	w.metrics.IncSubscriptionStarted()
	var ended atomic.Bool
	end := func(err error) {
		if ended.CompareAndSwap(false, true) {
			w.metrics.IncSubscriptionEnded(err)
		}
	}

	// aborting marks a close requested by the signal. It only counts as an
	// abort if the subscriber is still live when the handle reports closed.
	var aborting atomic.Bool

	local, err := localPath(path)
	if err != nil {
		end(err)
		subscriber.Error(err)
		return nil
	}
	fields := map[string]string{"path": local}

	handle, err := w.opener(local, watcher.Options{
		Encoding:   string(config.Encoding),
		Persistent: config.Persistent,
		Recursive:  config.Recursive,
		Logger:     w.logger,
	}, watcher.Handlers{
		Change: func(kind watcher.EventKind, name watcher.Filename) {
			if subscriber.Closed() {
				return
			}
			w.metrics.IncEventDelivered(string(kind))
			subscriber.Next(Event{Kind: kind, Name: name})
		},
		Error: func(err error) {
			w.logger.Warn("watch error", map[string]string{"path": local, "error": err.Error()})
			end(err)
			subscriber.Error(err)
		},
		Close: func() {
			if aborting.Load() && !subscriber.Closed() {
				w.metrics.IncSubscriptionAborted()
			}
			end(nil)
			subscriber.Complete()
		},
	})
	if err != nil {
		w.logger.Warn("watch open failed", map[string]string{"path": local, "error": err.Error()})
		end(err)
		subscriber.Error(err)
		return nil
	}
	w.logger.Debug("subscription opened", fields)

	stop := func() bool { return false }
	if signal := config.Signal; signal != nil {
		closeOnAbort := func(error) {
			aborting.Store(true)
			w.logger.Debug("subscription aborted", fields)
			_ = handle.Close()
		}
		if signal.Aborted() {
			closeOnAbort(signal.Reason())
		} else {
			stop = signal.OnAbort(closeOnAbort)
		}
	}

	return func() {
		stop()
		_ = handle.Close()
		end(nil)
		w.logger.Debug("subscription closed", fields)
	}
}

func openNative(path string, options watcher.Options, handlers watcher.Handlers) (watcher.Handle, error) {
	handle, err := watcher.Open(path, options, handlers)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// localPath accepts a plain path or a file: URL naming a local path.
func localPath(path string) (string, error) {
	if !strings.HasPrefix(path, "file:") {
		return path, nil
	}
	parsed, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid file URL %q: %w", path, err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("file URL %q must name a local path", path)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("file URL %q has no path", path)
	}
	return filepath.FromSlash(parsed.Path), nil
}
