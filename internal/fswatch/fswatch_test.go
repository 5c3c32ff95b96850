package fswatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fswatch/internal/abort"
	"fswatch/internal/metrics"
	"fswatch/internal/stream"
	"fswatch/internal/watcher"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu       sync.Mutex
	handlers watcher.Handlers
	closes   atomic.Int32
	// closed counts Close calls that took effect, the way a native handle
	// absorbs repeats.
	closed   atomic.Int32
	// When gate is set the first Close signals entered and then waits for
	// gate before reporting closed.
	gate     chan struct{}
	entered  chan struct{}
}

func (handle *fakeHandle) Close() error {
	if handle.closes.Add(1) == 1 {
		handle.closed.Add(1)
		if handle.gate != nil {
			close(handle.entered)
			<-handle.gate
		}
		if closeHandler := handle.current().Close; closeHandler != nil {
			closeHandler()
		}
	}
	return nil
}

func (handle *fakeHandle) current() watcher.Handlers {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	return handle.handlers
}

func (handle *fakeHandle) change(kind watcher.EventKind, name string) {
	handle.current().Change(kind, watcher.TextName(name))
}

func (handle *fakeHandle) fail(err error) {
	handle.current().Error(err)
}

type fakeOpener struct {
	mock.Mock
}

func (opener *fakeOpener) Open(path string, options watcher.Options, handlers watcher.Handlers) (watcher.Handle, error) {
	args := opener.Called(path, options)
	handle, _ := args.Get(0).(*fakeHandle)
	if handle == nil {
		return nil, args.Error(1)
	}
	handle.mu.Lock()
	handle.handlers = handlers
	handle.mu.Unlock()
	return handle, args.Error(1)
}

type observed struct {
	mu        sync.Mutex
	events    []Event
	errs      []error
	completes int
	terminal  chan struct{}
	once      sync.Once
}

func newObserved() *observed {
	return &observed{terminal: make(chan struct{})}
}

func (o *observed) observer() stream.Observer[Event] {
	return stream.Observer[Event]{
		Next: func(event Event) {
			o.mu.Lock()
			o.events = append(o.events, event)
			o.mu.Unlock()
		},
		Error: func(err error) {
			o.mu.Lock()
			o.errs = append(o.errs, err)
			o.mu.Unlock()
			o.once.Do(func() { close(o.terminal) })
		},
		Complete: func() {
			o.mu.Lock()
			o.completes++
			o.mu.Unlock()
			o.once.Do(func() { close(o.terminal) })
		},
	}
}

func (o *observed) snapshot() ([]Event, []error, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...), append([]error(nil), o.errs...), o.completes
}

func (o *observed) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-o.terminal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal notification")
	}
}

func newFakeWatcher(opener *fakeOpener, registry *metrics.Registry) *Watcher {
	return New(WatcherOptions{Opener: opener.Open, Metrics: registry})
}

func anyOptions() interface{} {
	return mock.AnythingOfType("watcher.Options")
}

func TestWatchDoesNotOpenUntilSubscribed(t *testing.T) {
	opener := &fakeOpener{}
	w := newFakeWatcher(opener, &metrics.Registry{})

	_ = w.Watch("/data", nil)

	opener.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestWatchForwardsResolvedOptions(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", mock.MatchedBy(func(options watcher.Options) bool {
		return options.Encoding == "buffer" && !options.Persistent && options.Recursive
	})).Return(handle, nil).Once()
	w := newFakeWatcher(opener, &metrics.Registry{})

	subscription := w.Watch("/data", &Options{
		Encoding:   EncodingBuffer,
		Persistent: Bool(false),
		Recursive:  true,
	}).Subscribe(stream.Observer[Event]{})
	subscription.Unsubscribe()

	opener.AssertExpectations(t)
}

func TestWatchForwardsEventsThenCompletes(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	registry := &metrics.Registry{}
	w := newFakeWatcher(opener, registry)

	got := newObserved()
	w.Watch("/data", nil).Subscribe(got.observer())

	handle.change(Rename, "foo")
	handle.change(Change, "foo")
	handle.change(Rename, "bar")
	require.NoError(t, handle.Close())
	got.waitTerminal(t)

	events, errs, completes := got.snapshot()
	require.Equal(t, []Event{
		{Kind: Rename, Name: watcher.TextName("foo")},
		{Kind: Change, Name: watcher.TextName("foo")},
		{Kind: Rename, Name: watcher.TextName("bar")},
	}, events)
	require.Empty(t, errs)
	require.Equal(t, 1, completes)

	snapshot := registry.Snapshot()
	require.Equal(t, int64(1), snapshot.SubscriptionsCompleted)
	require.Equal(t, int64(0), snapshot.ActiveSubscriptions)
	require.Equal(t, int64(2), snapshot.EventsDelivered["rename"])
	require.Equal(t, int64(1), snapshot.EventsDelivered["change"])
}

func TestWatchNativeErrorTerminates(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	registry := &metrics.Registry{}
	w := newFakeWatcher(opener, registry)

	got := newObserved()
	w.Watch("/data", nil).Subscribe(got.observer())

	boom := errors.New("boom")
	handle.change(Rename, "foo")
	handle.fail(boom)
	handle.fail(errors.New("again"))
	handle.change(Rename, "late")
	got.waitTerminal(t)

	events, errs, completes := got.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, []error{boom}, errs)
	require.Zero(t, completes)
	require.Equal(t, int32(1), handle.closes.Load())
	require.Equal(t, int64(1), registry.Snapshot().SubscriptionsFailed)
}

func TestWatchOpenErrorIsForwardedVerbatim(t *testing.T) {
	opener := &fakeOpener{}
	openErr := watcher.ErrRecursiveUnsupported
	opener.On("Open", "/data", anyOptions()).Return(nil, openErr)
	w := newFakeWatcher(opener, &metrics.Registry{})

	got := newObserved()
	subscription := w.Watch("/data", Options{Recursive: true}).Subscribe(got.observer())
	got.waitTerminal(t)

	_, errs, completes := got.snapshot()
	require.Len(t, errs, 1)
	require.Same(t, openErr, errs[0])
	require.Zero(t, completes)
	require.True(t, subscription.Closed())
}

func TestWatchUnsubscribeClosesHandleOnce(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	registry := &metrics.Registry{}
	w := newFakeWatcher(opener, registry)

	got := newObserved()
	subscription := w.Watch("/data", nil).Subscribe(got.observer())
	handle.change(Rename, "foo")

	subscription.Unsubscribe()
	subscription.Unsubscribe()
	handle.change(Rename, "bar")
	handle.fail(errors.New("after unsubscribe"))

	events, errs, completes := got.snapshot()
	require.Len(t, events, 1)
	require.Empty(t, errs)
	require.Zero(t, completes)
	require.Equal(t, int32(1), handle.closes.Load())
	require.Equal(t, int64(0), registry.Snapshot().ActiveSubscriptions)
}

func TestWatchUnsubscribeFromNext(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	w := newFakeWatcher(opener, &metrics.Registry{})

	var subscription *stream.Subscription
	var nexts atomic.Int32
	subscription = w.Watch("/data", nil).Subscribe(stream.Observer[Event]{
		Next: func(Event) {
			nexts.Add(1)
			subscription.Unsubscribe()
		},
	})

	handle.change(Rename, "a")
	handle.change(Rename, "b")

	require.Equal(t, int32(1), nexts.Load())
	require.True(t, subscription.Closed())
}

func TestWatchAbortCompletes(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	registry := &metrics.Registry{}
	w := newFakeWatcher(opener, registry)

	controller := abort.NewController()
	got := newObserved()
	subscription := w.Watch("/data", Options{Signal: controller.Signal()}).Subscribe(got.observer())
	require.Equal(t, 1, controller.Signal().ListenerCount())

	controller.Abort(nil)
	got.waitTerminal(t)
	<-subscription.Done()

	_, errs, completes := got.snapshot()
	require.Empty(t, errs)
	require.Equal(t, 1, completes)
	require.Equal(t, 0, controller.Signal().ListenerCount())

	subscription.Unsubscribe()
	require.GreaterOrEqual(t, handle.closes.Load(), int32(1))
	require.Equal(t, int32(1), handle.closed.Load())
	require.Equal(t, int64(1), registry.Snapshot().SubscriptionsAborted)
}

func TestWatchAbortLosingToUnsubscribeIsNotCounted(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{gate: make(chan struct{}), entered: make(chan struct{})}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	registry := &metrics.Registry{}
	w := newFakeWatcher(opener, registry)

	controller := abort.NewController()
	got := newObserved()
	subscription := w.Watch("/data", Options{Signal: controller.Signal()}).Subscribe(got.observer())

	controller.Abort(nil)
	select {
	case <-handle.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("abort never reached the handle")
	}

	subscription.Unsubscribe()
	<-subscription.Done()
	close(handle.gate)

	require.Eventually(t, func() bool {
		return registry.Snapshot().ActiveSubscriptions == 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, errs, completes := got.snapshot()
	require.Empty(t, errs)
	require.Zero(t, completes)
	require.Zero(t, registry.Snapshot().SubscriptionsAborted)
	require.Equal(t, int32(1), handle.closed.Load())
}

func TestWatchPreAbortedSignalCompletesImmediately(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(handle, nil)
	w := newFakeWatcher(opener, &metrics.Registry{})

	signal := abort.Aborted(nil)
	got := newObserved()
	subscription := w.Watch("/data", Options{Signal: signal}).Subscribe(got.observer())
	got.waitTerminal(t)

	_, errs, completes := got.snapshot()
	require.Empty(t, errs)
	require.Equal(t, 1, completes)
	require.True(t, subscription.Closed())
	require.Equal(t, 0, signal.ListenerCount())
}

func TestWatchTeardownRemovesAbortListener(t *testing.T) {
	opener := &fakeOpener{}
	opener.On("Open", "/data", anyOptions()).Return(&fakeHandle{}, nil)
	w := newFakeWatcher(opener, &metrics.Registry{})

	controller := abort.NewController()
	got := newObserved()
	subscription := w.Watch("/data", Options{Signal: controller.Signal()}).Subscribe(got.observer())
	subscription.Unsubscribe()
	require.Equal(t, 0, controller.Signal().ListenerCount())

	controller.Abort(nil)
	time.Sleep(20 * time.Millisecond)
	_, errs, completes := got.snapshot()
	require.Empty(t, errs)
	require.Zero(t, completes)
}

func TestWatchEachSubscriptionOpensFreshHandle(t *testing.T) {
	opener := &fakeOpener{}
	first := &fakeHandle{}
	second := &fakeHandle{}
	opener.On("Open", "/data", anyOptions()).Return(first, nil).Once()
	opener.On("Open", "/data", anyOptions()).Return(second, nil).Once()
	w := newFakeWatcher(opener, &metrics.Registry{})

	observable := w.Watch("/data", nil)
	a := newObserved()
	b := newObserved()
	subA := observable.Subscribe(a.observer())
	observable.Subscribe(b.observer())

	first.change(Rename, "only-a")
	second.change(Rename, "only-b")
	subA.Unsubscribe()
	second.change(Change, "still-b")

	eventsA, _, _ := a.snapshot()
	eventsB, _, _ := b.snapshot()
	require.Len(t, eventsA, 1)
	require.Len(t, eventsB, 2)
	require.Zero(t, second.closes.Load())
	opener.AssertNumberOfCalls(t, "Open", 2)
}

func TestWatchAcceptsFileURL(t *testing.T) {
	opener := &fakeOpener{}
	handle := &fakeHandle{}
	opener.On("Open", "/tmp/some dir", anyOptions()).Return(handle, nil)
	w := newFakeWatcher(opener, &metrics.Registry{})

	subscription := w.Watch("file:///tmp/some%20dir", nil).Subscribe(stream.Observer[Event]{})
	subscription.Unsubscribe()

	opener.AssertExpectations(t)
}

func TestWatchRejectsRemoteFileURL(t *testing.T) {
	opener := &fakeOpener{}
	w := newFakeWatcher(opener, &metrics.Registry{})

	got := newObserved()
	w.Watch("file://server/share", nil).Subscribe(got.observer())
	got.waitTerminal(t)

	_, errs, _ := got.snapshot()
	require.Len(t, errs, 1)
	opener.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestEventString(t *testing.T) {
	event := Event{Kind: Rename, Name: watcher.TextName("foo")}
	require.Equal(t, "rename foo", event.String())
}
