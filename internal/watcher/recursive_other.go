//go:build !darwin

package watcher

// fsnotify has no native recursive mode here and subdirectory emulation is
// left to callers.
func newRecursiveBackend(root string) (backend, error) {
	return nil, ErrRecursiveUnsupported
}
