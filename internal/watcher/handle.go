package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"fswatch/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// FSHandle is one open native watch.
type FSHandle struct {
	path       string
	root       string
	isDir      bool
	persistent bool
	decode     nameDecoder
	handlers   Handlers
	backend    backend
	logger     *logging.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
	failed    atomic.Bool
}

// Open starts watching path and returns once the OS watch is in place. Events
// are delivered to handlers from a dedicated goroutine until the handle is
// closed or fails.
func Open(path string, options Options, handlers Handlers) (*FSHandle, error) {
	if path == "" {
		return nil, &fs.PathError{Op: "watch", Path: path, Err: errors.New("path is required")}
	}

	decode, err := lookupEncoding(options.Encoding)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, watchError(path, err)
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, watchError(path, err)
	}

	source, err := newBackend(root, options.Recursive && info.IsDir())
	if err != nil {
		return nil, watchError(path, err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	handle := &FSHandle{
		path:       path,
		root:       root,
		isDir:      info.IsDir(),
		persistent: options.Persistent,
		decode:     decode,
		handlers:   handlers,
		backend:    source,
		logger:     logger.Category("watcher"),
		done:       make(chan struct{}),
	}
	if handle.persistent {
		keepAlive.acquire()
	}

	handle.logger.Debug("watch opened", map[string]string{
		"path":      path,
		"recursive": strconv.FormatBool(options.Recursive && info.IsDir()),
	})
	go handle.run()
	return handle, nil
}

// Path returns the path the handle was opened with.
func (handle *FSHandle) Path() string {
	if handle == nil {
		return ""
	}
	return handle.path
}

// Close stops the watch. It never waits for the dispatch goroutine, so it is
// safe to call from inside a handler; repeated calls return the first result.
func (handle *FSHandle) Close() error {
	if handle == nil {
		return nil
	}
	handle.closeOnce.Do(func() {
		handle.closed.Store(true)
		close(handle.done)
		handle.closeErr = handle.backend.Close()
	})
	return handle.closeErr
}

func (handle *FSHandle) run() {
	defer func() {
		if handle.persistent {
			keepAlive.release()
		}
	}()

	events := handle.backend.Events()
	errs := handle.backend.Errors()
	for {
		select {
		case <-handle.done:
			handle.finish()
			return
		case event, ok := <-events:
			if !ok {
				_ = handle.Close()
				handle.finish()
				return
			}
			if handle.closed.Load() {
				continue
			}
			if err := handle.dispatch(event); err != nil {
				handle.fail(err)
				return
			}
		case err, ok := <-errs:
			if !ok {
				_ = handle.Close()
				handle.finish()
				return
			}
			handle.fail(err)
			return
		}
	}
}

// dispatch forwards one event. It returns an error when the watched entry
// itself is gone, which ends the watch.
func (handle *FSHandle) dispatch(event fsnotify.Event) error {
	kind, ok := eventKind(event.Op)
	if !ok {
		return nil
	}

	name := handle.relativeName(event.Name)
	if handle.handlers.Change != nil {
		handle.handlers.Change(kind, handle.decode([]byte(name)))
	}

	if filepath.Clean(event.Name) == handle.root && (event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)) {
		return &fs.PathError{Op: "watch", Path: handle.path, Err: fs.ErrNotExist}
	}
	return nil
}

func (handle *FSHandle) relativeName(eventPath string) string {
	cleaned := filepath.Clean(eventPath)
	if !handle.isDir || cleaned == handle.root {
		return filepath.Base(cleaned)
	}
	rel, err := filepath.Rel(handle.root, cleaned)
	if err != nil {
		return filepath.Base(cleaned)
	}
	return rel
}

func (handle *FSHandle) fail(err error) {
	if handle.closed.Load() {
		handle.finish()
		return
	}
	handle.failed.Store(true)
	_ = handle.Close()

	handle.logger.Warn("watch failed", map[string]string{
		"path":  handle.path,
		"error": err.Error(),
	})
	if handle.handlers.Error != nil {
		handle.handlers.Error(err)
	}
}

func (handle *FSHandle) finish() {
	if handle.failed.Load() {
		return
	}
	handle.logger.Debug("watch closed", map[string]string{
		"path": handle.path,
	})
	if handle.handlers.Close != nil {
		handle.handlers.Close()
	}
}

func watchError(path string, err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	return &fs.PathError{Op: "watch", Path: path, Err: err}
}
