package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func TestDecodeFullFile(t *testing.T) {
	payload := []byte(`
log_level: debug
format: json
retry:
  enabled: true
  initial_interval: 50ms
  max_interval: 2s
  max_elapsed: 1m
serve:
  addr: 127.0.0.1:9191
  roots:
    - /srv/data
  allowed_origins:
    - http://localhost:3000
  token: secret
watches:
  - path: /srv/data
    encoding: buffer
    persistent: false
    recursive: true
  - path: /etc/hosts
`)

	file, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if file.LogLevel != "debug" || file.Format != FormatJSON {
		t.Fatalf("unexpected top-level settings: %+v", file)
	}
	if !file.Retry.Enabled || file.Retry.InitialInterval.Std() != 50*time.Millisecond ||
		file.Retry.MaxInterval.Std() != 2*time.Second || file.Retry.MaxElapsed.Std() != time.Minute {
		t.Fatalf("unexpected retry: %+v", file.Retry)
	}
	if file.Serve.Addr != "127.0.0.1:9191" || len(file.Serve.Roots) != 1 || file.Serve.Token != "secret" {
		t.Fatalf("unexpected serve: %+v", file.Serve)
	}
	if len(file.Watches) != 2 {
		t.Fatalf("expected 2 watches, got %d", len(file.Watches))
	}
	first := file.Watches[0]
	if first.Encoding != "buffer" || first.Persistent == nil || *first.Persistent || !first.Recursive {
		t.Fatalf("unexpected first watch: %+v", first)
	}
	if file.Watches[1].Persistent != nil {
		t.Fatal("expected omitted persistent to stay nil")
	}
}

func TestDecodeEmptyUsesDefaults(t *testing.T) {
	file, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defaults := Default()
	if file.LogLevel != defaults.LogLevel || file.Format != defaults.Format {
		t.Fatalf("expected defaults, got %+v", file)
	}
	if file.Retry.InitialInterval.Std() != DefaultInitialInterval || file.Retry.MaxInterval.Std() != DefaultMaxInterval {
		t.Fatalf("unexpected retry defaults: %+v", file.Retry)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode([]byte("watchs:\n  - path: /tmp\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid YAML config") {
		t.Fatalf("expected invalid YAML error, got %v", err)
	}
}

func TestDecodeRejectsBadDuration(t *testing.T) {
	_, err := Decode([]byte("retry:\n  initial_interval: soon\n"))
	if err == nil {
		t.Fatal("expected duration error")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	file := Default()
	file.LogLevel = "loud"
	file.Format = "xml"
	file.Retry.InitialInterval = Duration(time.Second)
	file.Retry.MaxInterval = Duration(time.Millisecond)
	file.Watches = []Watch{{Path: " "}}
	file.Serve.Addr = ":9191"

	err := file.Validate()
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected multierror, got %T", err)
	}
	if len(merr.Errors) != 5 {
		t.Fatalf("expected 5 errors, got %d: %v", len(merr.Errors), merr)
	}
}

func TestLoadWrapsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fswatch.yaml")
	if err := os.WriteFile(path, []byte("format: yaml\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error mentioning %s, got %v", path, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	value, err := Duration(1500 * time.Millisecond).MarshalYAML()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if value != "1.5s" {
		t.Fatalf("expected 1.5s, got %v", value)
	}
}
