package watcher

import (
	"bytes"
	"errors"

	"fswatch/internal/logging"
)

// EventKind is the coarse class of a change.
type EventKind string

const (
	// EventRename: a name appeared or disappeared in a watched directory, or the
	// watched file itself was renamed or removed.
	EventRename EventKind = "rename"
	// EventChange: content or metadata of an entry was modified in place.
	EventChange EventKind = "change"
)

var (
	ErrUnknownEncoding      = errors.New("unknown encoding")
	ErrRecursiveUnsupported = errors.New("recursive watch is not supported on this platform")
)

// Filename is the name carried by a change: decoded text, or the raw bytes
// when the watch was opened with the buffer encoding.
type Filename struct {
	text    string
	raw     []byte
	isBytes bool
}

func TextName(text string) Filename {
	return Filename{text: text}
}

func BytesName(raw []byte) Filename {
	return Filename{raw: bytes.Clone(raw), isBytes: true}
}

// IsBytes reports whether the name holds raw bytes rather than decoded text.
func (name Filename) IsBytes() bool {
	return name.isBytes
}

// String returns the text form. Raw names are converted without decoding.
func (name Filename) String() string {
	if name.isBytes {
		return string(name.raw)
	}
	return name.text
}

// Bytes returns a copy of the raw bytes, or the text as bytes.
func (name Filename) Bytes() []byte {
	if name.isBytes {
		return bytes.Clone(name.raw)
	}
	return []byte(name.text)
}

func (name Filename) Equal(other Filename) bool {
	if name.isBytes != other.isBytes {
		return false
	}
	if name.isBytes {
		return bytes.Equal(name.raw, other.raw)
	}
	return name.text == other.text
}

// Handle releases a native watch.
type Handle interface {
	Close() error
}

// Options configures one native watch.
type Options struct {
	// Encoding names how filenames are decoded. Empty means utf8; "buffer"
	// delivers raw bytes.
	Encoding string
	// Persistent watches are counted by WaitPersistent.
	Persistent bool
	// Recursive watches subdirectories where the platform supports it natively.
	Recursive bool
	Logger    *logging.Logger
}

// Handlers receive the outcomes of a native watch. Change may be called any
// number of times, then at most one of Error or Close.
type Handlers struct {
	Change func(kind EventKind, name Filename)
	Error  func(err error)
	Close  func()
}
