package fswatch

import (
	"strconv"

	"fswatch/internal/abort"
)

// Encoding names how filenames are decoded. EncodingBuffer delivers raw bytes.
type Encoding string

const (
	EncodingBuffer  Encoding = "buffer"
	DefaultEncoding Encoding = "utf8"
)

// NameMode tells whether event names carry decoded text or raw bytes.
type NameMode int

const (
	NameText NameMode = iota
	NameBytes
)

func (mode NameMode) String() string {
	switch mode {
	case NameText:
		return "text"
	case NameBytes:
		return "bytes"
	default:
		return "NameMode(" + strconv.Itoa(int(mode)) + ")"
	}
}

// Options is the record form of watch options. The zero value watches with
// the default encoding, persistently and non-recursively.
type Options struct {
	Encoding Encoding
	// Persistent defaults to true when nil.
	Persistent *bool
	Recursive  bool
	Signal     *abort.Signal
}

// Bool returns a pointer to value, for Options.Persistent.
func Bool(value bool) *bool {
	return &value
}

// OptionsValue is accepted wherever watch options are: nil, an Encoding, an
// Options or *Options record, or an already resolved Config.
type OptionsValue interface {
	resolve() Config
}

// Config is the canonical form of any OptionsValue.
type Config struct {
	Encoding   Encoding
	Mode       NameMode
	Persistent bool
	Recursive  bool
	Signal     *abort.Signal
}

// Resolve normalizes options into a Config.
func Resolve(options OptionsValue) Config {
	switch value := options.(type) {
	case nil:
		return Options{}.resolve()
	case *Options:
		if value == nil {
			return Options{}.resolve()
		}
		return value.resolve()
	default:
		return options.resolve()
	}
}

func (encoding Encoding) resolve() Config {
	return Options{Encoding: encoding}.resolve()
}

func (options Options) resolve() Config {
	persistent := true
	if options.Persistent != nil {
		persistent = *options.Persistent
	}
	return Config{
		Encoding:   options.Encoding,
		Persistent: persistent,
		Recursive:  options.Recursive,
		Signal:     options.Signal,
	}.resolve()
}

func (config Config) resolve() Config {
	if config.Encoding == "" {
		config.Encoding = DefaultEncoding
	}
	config.Mode = NameText
	if config.Encoding == EncodingBuffer {
		config.Mode = NameBytes
	}
	return config
}
