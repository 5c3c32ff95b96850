package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"fswatch/internal/config"
	"fswatch/internal/fswatch"
)

type eventLine struct {
	Path     string `json:"path"`
	Event    string `json:"event"`
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
}

// printer serializes output from concurrent watches.
type printer struct {
	mutex     sync.Mutex
	out       io.Writer
	format    string
	withPaths bool
}

func newPrinter(out io.Writer, format string, withPaths bool) *printer {
	return &printer{out: out, format: format, withPaths: withPaths}
}

func (p *printer) print(spec watchSpec, event fswatch.Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.format == config.FormatJSON {
		line := eventLine{
			Path:     spec.Path,
			Event:    string(event.Kind),
			Name:     event.Name.String(),
			Encoding: string(fswatch.Resolve(fswatch.Encoding(spec.Encoding)).Encoding),
		}
		if event.Name.IsBytes() {
			line.Name = base64.StdEncoding.EncodeToString(event.Name.Bytes())
		}
		payload, err := json.Marshal(line)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "%s\n", payload)
		return err
	}

	name := event.Name.String()
	if event.Name.IsBytes() {
		name = hex.EncodeToString(event.Name.Bytes())
	}
	if p.withPaths {
		_, err := fmt.Fprintf(p.out, "%s: %s %s\n", spec.Path, event.Kind, name)
		return err
	}
	_, err := fmt.Fprintf(p.out, "%s %s\n", event.Kind, name)
	return err
}
