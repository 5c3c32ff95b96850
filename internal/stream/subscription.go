package stream

import "sync"

// Subscription is the caller-facing handle of one subscribe call. It owns the
// teardown actions that release whatever the producer opened.
type Subscription struct {
	mu        sync.Mutex
	closed    bool
	teardowns []func()
	done      chan struct{}
}

func newSubscription() *Subscription {
	return &Subscription{done: make(chan struct{})}
}

// Unsubscribe runs every registered teardown once. Later calls are no-ops, and
// it may be called from any goroutine, including from inside an observer.
//
// Unsubscribe does not wait for a delivery running on the producer's goroutine.
// An item whose delivery started before the call may still reach the observer
// after Unsubscribe returns; items pushed after it returns are dropped.
func (subscription *Subscription) Unsubscribe() {
	if subscription == nil {
		return
	}

	subscription.mu.Lock()
	if subscription.closed {
		subscription.mu.Unlock()
		return
	}
	subscription.closed = true
	teardowns := subscription.teardowns
	subscription.teardowns = nil
	subscription.mu.Unlock()

	for _, teardown := range teardowns {
		teardown()
	}
	close(subscription.done)
}

// Add registers a teardown. On a closed subscription fn runs immediately.
func (subscription *Subscription) Add(fn func()) {
	if subscription == nil || fn == nil {
		return
	}

	subscription.mu.Lock()
	if subscription.closed {
		subscription.mu.Unlock()
		fn()
		return
	}
	subscription.teardowns = append(subscription.teardowns, fn)
	subscription.mu.Unlock()
}

// Closed reports whether the subscription has been torn down.
func (subscription *Subscription) Closed() bool {
	if subscription == nil {
		return true
	}
	subscription.mu.Lock()
	defer subscription.mu.Unlock()
	return subscription.closed
}

// Done returns a channel closed once the subscription is torn down and its
// teardowns have returned.
func (subscription *Subscription) Done() <-chan struct{} {
	if subscription == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return subscription.done
}
