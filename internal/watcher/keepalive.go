package watcher

import (
	"context"
	"sync"
)

// keepAlive counts open persistent handles so a program can stay up exactly as
// long as something persistent is being watched.
var keepAlive = &keepAliveGroup{}

type keepAliveGroup struct {
	mutex sync.Mutex
	count int
	idle  chan struct{}
}

func (group *keepAliveGroup) acquire() {
	group.mutex.Lock()
	defer group.mutex.Unlock()
	if group.count == 0 || group.idle == nil {
		group.idle = make(chan struct{})
	}
	group.count++
}

func (group *keepAliveGroup) release() {
	group.mutex.Lock()
	defer group.mutex.Unlock()
	if group.count == 0 {
		return
	}
	group.count--
	if group.count == 0 {
		close(group.idle)
	}
}

func (group *keepAliveGroup) active() int {
	group.mutex.Lock()
	defer group.mutex.Unlock()
	return group.count
}

func (group *keepAliveGroup) wait(ctx context.Context) error {
	for {
		group.mutex.Lock()
		if group.count == 0 {
			group.mutex.Unlock()
			return nil
		}
		idle := group.idle
		group.mutex.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ActivePersistent reports how many persistent handles are open.
func ActivePersistent() int {
	return keepAlive.active()
}

// WaitPersistent blocks until no persistent handle is open or ctx is done.
func WaitPersistent(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return keepAlive.wait(ctx)
}
