// Package stream implements a small cold observable: a producer that runs once
// per subscription and pushes zero or more items followed by at most one
// terminal error or completion.
package stream

import (
	"fmt"
	"sync/atomic"
)

// TeardownFunc releases what a producer opened for one subscription.
type TeardownFunc func()

// Observer receives the notifications of one subscription. Nil callbacks are skipped.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Observable is a lazy sequence. Nothing happens until Subscribe is called, and
// every Subscribe call runs the producer again.
type Observable[T any] struct {
	producer func(*Subscriber[T]) TeardownFunc
}

// New creates an observable from a producer.
func New[T any](producer func(*Subscriber[T]) TeardownFunc) *Observable[T] {
	return &Observable[T]{producer: producer}
}

// Subscribe runs the producer for a new subscriber bound to observer.
func (observable *Observable[T]) Subscribe(observer Observer[T]) *Subscription {
	subscriber := newSubscriber(observer)
	if observable == nil || observable.producer == nil {
		subscriber.Complete()
		return subscriber.subscription
	}

	teardown := subscriber.run(observable.producer)
	if teardown != nil {
		subscriber.subscription.Add(teardown)
	}
	return subscriber.subscription
}

// Subscriber is the producer-facing side of a subscription.
type Subscriber[T any] struct {
	observer     Observer[T]
	subscription *Subscription
	stopped      atomic.Bool
}

func newSubscriber[T any](observer Observer[T]) *Subscriber[T] {
	return &Subscriber[T]{
		observer:     observer,
		subscription: newSubscription(),
	}
}

func (subscriber *Subscriber[T]) run(producer func(*Subscriber[T]) TeardownFunc) (teardown TeardownFunc) {
	defer func() {
		if recovered := recover(); recovered != nil {
			subscriber.Error(fmt.Errorf("stream producer panicked: %v", recovered))
			teardown = nil
		}
	}()
	return producer(subscriber)
}

// Next delivers an item unless the subscriber is stopped. The check happens
// before the observer runs, so a concurrent Unsubscribe does not interrupt a
// delivery already under way.
func (subscriber *Subscriber[T]) Next(value T) {
	if subscriber.Closed() {
		return
	}
	if subscriber.observer.Next != nil {
		subscriber.observer.Next(value)
	}
}

// Error delivers the terminal error and tears the subscription down. Only the
// first terminal call has an effect.
func (subscriber *Subscriber[T]) Error(err error) {
	if !subscriber.stop() {
		return
	}
	if subscriber.observer.Error != nil {
		subscriber.observer.Error(err)
	}
	subscriber.subscription.Unsubscribe()
}

// Complete delivers completion and tears the subscription down. Only the first
// terminal call has an effect.
func (subscriber *Subscriber[T]) Complete() {
	if !subscriber.stop() {
		return
	}
	if subscriber.observer.Complete != nil {
		subscriber.observer.Complete()
	}
	subscriber.subscription.Unsubscribe()
}

// Closed reports whether the subscriber terminated or was unsubscribed.
func (subscriber *Subscriber[T]) Closed() bool {
	return subscriber.stopped.Load() || subscriber.subscription.Closed()
}

// Subscription returns the subscription this subscriber feeds.
func (subscriber *Subscriber[T]) Subscription() *Subscription {
	return subscriber.subscription
}

func (subscriber *Subscriber[T]) stop() bool {
	if subscriber.subscription.Closed() {
		return false
	}
	return subscriber.stopped.CompareAndSwap(false, true)
}
