package watcher

import (
	"github.com/fsnotify/fsnotify"
)

// backend is the OS-facing event source of one handle. Events use the fsnotify
// shape whatever the underlying facility is.
type backend interface {
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsnotifyBackend struct {
	watcher *fsnotify.Watcher
}

func newBackend(root string, recursive bool) (backend, error) {
	if recursive {
		return newRecursiveBackend(root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &fsnotifyBackend{watcher: watcher}, nil
}

func (backend *fsnotifyBackend) Events() <-chan fsnotify.Event {
	return backend.watcher.Events
}

func (backend *fsnotifyBackend) Errors() <-chan error {
	return backend.watcher.Errors
}

func (backend *fsnotifyBackend) Close() error {
	return backend.watcher.Close()
}

func eventKind(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op.Has(fsnotify.Create), op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return EventRename, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return EventChange, true
	default:
		return "", false
	}
}
