// Package config loads the optional YAML file that describes what fswatch
// watches and how it serves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fswatch/internal/logging"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
)

type File struct {
	LogLevel string  `yaml:"log_level,omitempty"`
	Format   string  `yaml:"format,omitempty"`
	Retry    Retry   `yaml:"retry,omitempty"`
	Serve    Serve   `yaml:"serve,omitempty"`
	Watches  []Watch `yaml:"watches,omitempty"`
}

type Watch struct {
	Path     string `yaml:"path"`
	Encoding string `yaml:"encoding,omitempty"`
	// Persistent defaults to true when omitted.
	Persistent *bool `yaml:"persistent,omitempty"`
	Recursive  bool  `yaml:"recursive,omitempty"`
}

// Retry controls resubscribing after a watch fails. MaxElapsed of zero retries
// forever.
type Retry struct {
	Enabled         bool     `yaml:"enabled,omitempty"`
	InitialInterval Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     Duration `yaml:"max_interval,omitempty"`
	MaxElapsed      Duration `yaml:"max_elapsed,omitempty"`
}

type Serve struct {
	Addr           string   `yaml:"addr,omitempty"`
	Roots          []string `yaml:"roots,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	Token          string   `yaml:"token,omitempty"`
}

// Duration is a time.Duration written as "250ms" or "1m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the settings used when no file is given.
func Default() File {
	return File{
		LogLevel: string(logging.LevelInfo),
		Format:   FormatText,
		Retry: Retry{
			InitialInterval: Duration(DefaultInitialInterval),
			MaxInterval:     Duration(DefaultMaxInterval),
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (File, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	file, err := Decode(payload)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Decode parses a YAML payload over the defaults and validates the result.
// Unknown keys are rejected.
func Decode(payload []byte) (File, error) {
	file := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("invalid YAML config: %w", err)
	}
	file.applyDefaults()
	if err := file.Validate(); err != nil {
		return file, err
	}
	return file, nil
}

func (file *File) applyDefaults() {
	if strings.TrimSpace(file.LogLevel) == "" {
		file.LogLevel = string(logging.LevelInfo)
	}
	if strings.TrimSpace(file.Format) == "" {
		file.Format = FormatText
	}
	if file.Retry.InitialInterval <= 0 {
		file.Retry.InitialInterval = Duration(DefaultInitialInterval)
	}
	if file.Retry.MaxInterval <= 0 {
		file.Retry.MaxInterval = Duration(DefaultMaxInterval)
	}
}

// Validate reports every problem in the file at once.
func (file File) Validate() error {
	var result *multierror.Error

	if _, ok := logging.ParseLevel(file.LogLevel); !ok {
		result = multierror.Append(result, fmt.Errorf("log_level: unknown level %q", file.LogLevel))
	}
	switch file.Format {
	case FormatText, FormatJSON:
	default:
		result = multierror.Append(result, fmt.Errorf("format: must be %q or %q, got %q", FormatText, FormatJSON, file.Format))
	}
	if file.Retry.MaxInterval < file.Retry.InitialInterval {
		result = multierror.Append(result, errors.New("retry: max_interval is shorter than initial_interval"))
	}
	if file.Retry.MaxElapsed < 0 {
		result = multierror.Append(result, errors.New("retry: max_elapsed must not be negative"))
	}
	for i, watch := range file.Watches {
		if strings.TrimSpace(watch.Path) == "" {
			result = multierror.Append(result, fmt.Errorf("watches[%d]: path is required", i))
		}
	}
	if strings.TrimSpace(file.Serve.Addr) != "" && len(file.Serve.Roots) == 0 {
		result = multierror.Append(result, errors.New("serve: at least one root is required"))
	}
	for i, root := range file.Serve.Roots {
		if strings.TrimSpace(root) == "" {
			result = multierror.Append(result, fmt.Errorf("serve.roots[%d]: must not be empty", i))
		}
	}

	return result.ErrorOrNil()
}
