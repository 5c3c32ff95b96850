//go:build darwin

package watcher

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsevents"
	"github.com/fsnotify/fsnotify"
)

const fseventsLatency = 50 * time.Millisecond

type fseventsBackend struct {
	stream *fsevents.EventStream
	events chan fsnotify.Event
	errors chan error
	done   chan struct{}
	closed atomic.Bool
}

func newRecursiveBackend(root string) (backend, error) {
	device, err := fsevents.DeviceForPath(root)
	if err != nil {
		return nil, fmt.Errorf("fsevents device: %w", err)
	}

	stream := &fsevents.EventStream{
		Paths:   []string{root},
		Latency: fseventsLatency,
		Device:  device,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
	}
	stream.Start()

	backend := &fseventsBackend{
		stream: stream,
		events: make(chan fsnotify.Event),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
	go backend.forward()
	return backend, nil
}

func (backend *fseventsBackend) forward() {
	for {
		select {
		case batch, ok := <-backend.stream.Events:
			if !ok {
				return
			}
			for _, raw := range batch {
				// Paths arrive relative to the device root.
				event := fsnotify.Event{Name: "/" + raw.Path, Op: fseventsOp(raw.Flags)}
				if event.Op == 0 {
					continue
				}
				select {
				case backend.events <- event:
				case <-backend.done:
					return
				}
			}
		case <-backend.done:
			return
		}
	}
}

func fseventsOp(flags fsevents.EventFlags) fsnotify.Op {
	switch {
	case flags&fsevents.ItemRemoved != 0:
		return fsnotify.Remove
	case flags&fsevents.ItemRenamed != 0:
		return fsnotify.Rename
	case flags&fsevents.ItemCreated != 0:
		return fsnotify.Create
	case flags&fsevents.ItemModified != 0:
		return fsnotify.Write
	case flags&(fsevents.ItemInodeMetaMod|fsevents.ItemChangeOwner|fsevents.ItemXattrMod) != 0:
		return fsnotify.Chmod
	default:
		return 0
	}
}

func (backend *fseventsBackend) Events() <-chan fsnotify.Event {
	return backend.events
}

func (backend *fseventsBackend) Errors() <-chan error {
	return backend.errors
}

func (backend *fseventsBackend) Close() error {
	if !backend.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(backend.done)
	backend.stream.Stop()
	return nil
}
