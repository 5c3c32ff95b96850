// Package watcher is the native change-notification primitive: one handle per
// watched path, backed by fsnotify (and fsevents for recursive watches on darwin).
//
// A handle delivers every change verbatim through its handlers, in the order the
// operating system reports them, from a single dispatch goroutine. It performs
// no debouncing or coalescing. Close is idempotent and may be called from any
// goroutine, including from inside a handler.
package watcher
