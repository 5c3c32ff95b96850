package watcher

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	EncodingBuffer  = "buffer"
	DefaultEncoding = "utf8"
)

type nameDecoder func(raw []byte) Filename

// lookupEncoding maps an encoding name to a filename decoder. "buffer" is
// matched exactly; every other name is case-insensitive.
func lookupEncoding(name string) (nameDecoder, error) {
	if name == EncodingBuffer {
		return BytesName, nil
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf8", "utf-8":
		return textDecoder(unicode.UTF8), nil
	case "latin1", "binary":
		return textDecoder(charmap.ISO8859_1), nil
	case "ucs2", "ucs-2", "utf16le", "utf-16le":
		return textDecoder(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)), nil
	case "ascii":
		return decodeASCII, nil
	case "hex":
		return func(raw []byte) Filename {
			return TextName(hex.EncodeToString(raw))
		}, nil
	case "base64":
		return func(raw []byte) Filename {
			return TextName(base64.StdEncoding.EncodeToString(raw))
		}, nil
	case "base64url":
		return func(raw []byte) Filename {
			return TextName(base64.RawURLEncoding.EncodeToString(raw))
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

func textDecoder(enc encoding.Encoding) nameDecoder {
	return func(raw []byte) Filename {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return TextName(string(raw))
		}
		return TextName(string(decoded))
	}
}

func decodeASCII(raw []byte) Filename {
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b & 0x7f
	}
	return TextName(string(out))
}
