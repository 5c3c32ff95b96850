package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fswatch/internal/cli"
	"fswatch/internal/config"
	"fswatch/internal/logging"
)

const (
	envConfig   = "FSWATCH_CONFIG"
	envLogLevel = "FSWATCH_LOG_LEVEL"
	envToken    = "FSWATCH_TOKEN"
)

type watchSpec struct {
	Path       string
	Encoding   string
	Persistent bool
	Recursive  bool
}

type Config struct {
	Watches []watchSpec
	Format  string

	Retry           bool
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration

	ServeAddr      string
	Roots          []string
	Token          string
	AllowedOrigins []string

	LogLevel    logging.Level
	ShowVersion bool
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("fswatch", flag.ContinueOnError)
	fs.SetOutput(errOut)
	encodingFlag := fs.String("encoding", "", "Filename encoding, or buffer for raw bytes (default: utf8)")
	recursiveFlag := fs.Bool("recursive", false, "Watch subdirectories where the platform supports it")
	persistentFlag := fs.Bool("persistent", true, "Keep running while the watch is open")
	formatFlag := fs.String("format", config.FormatText, "Output format: text or json")
	configFlag := fs.String("config", "", "YAML config file (env: FSWATCH_CONFIG)")
	retryFlag := fs.Bool("retry", false, "Resubscribe with backoff after a watch error")
	serveFlag := fs.String("serve", "", "Serve websocket streams on ADDR instead of printing")
	tokenFlag := fs.String("token", "", "Auth token for serve mode (env: FSWATCH_TOKEN)")
	logLevelFlag := fs.String("log-level", "", "Log level: debug, info, warning, error (env: FSWATCH_LOG_LEVEL)")
	var roots cli.StringList
	fs.Var(&roots, "root", "Directory clients may watch in serve mode (repeatable)")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if helpVersion.Help {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Config{ShowVersion: true}, nil
	}

	file := config.Default()
	if path := strings.TrimSpace(*configFlag); path != "" || os.Getenv(envConfig) != "" {
		if path == "" {
			path = strings.TrimSpace(os.Getenv(envConfig))
		}
		loaded, err := config.Load(path)
		if err != nil {
			return Config{}, configErr(err)
		}
		file = loaded
	}

	set := cli.SetFlags(fs)
	cfg := Config{
		Format:          file.Format,
		Retry:           file.Retry.Enabled,
		RetryInitial:    file.Retry.InitialInterval.Std(),
		RetryMax:        file.Retry.MaxInterval.Std(),
		RetryMaxElapsed: file.Retry.MaxElapsed.Std(),
		ServeAddr:       strings.TrimSpace(file.Serve.Addr),
		Roots:           append([]string(nil), file.Serve.Roots...),
		Token:           strings.TrimSpace(file.Serve.Token),
		AllowedOrigins:  append([]string(nil), file.Serve.AllowedOrigins...),
	}
	if set["format"] {
		cfg.Format = strings.ToLower(strings.TrimSpace(*formatFlag))
	}
	if set["retry"] {
		cfg.Retry = *retryFlag
	}
	if set["serve"] {
		cfg.ServeAddr = strings.TrimSpace(*serveFlag)
	}
	if len(roots) > 0 {
		cfg.Roots = roots
	}
	if token := strings.TrimSpace(*tokenFlag); token != "" {
		cfg.Token = token
	} else if cfg.Token == "" {
		cfg.Token = cli.EnvOrDefault(envToken, "")
	}

	levelText := file.LogLevel
	if !set["log-level"] {
		levelText = cli.EnvOrDefault(envLogLevel, levelText)
	} else {
		levelText = *logLevelFlag
	}
	level, ok := logging.ParseLevel(levelText)
	if !ok {
		fs.Usage()
		return Config{}, fmt.Errorf("unknown log level %q", levelText)
	}
	cfg.LogLevel = level

	if cfg.Format != config.FormatText && cfg.Format != config.FormatJSON {
		fs.Usage()
		return Config{}, fmt.Errorf("unknown format %q", cfg.Format)
	}

	if fs.NArg() > 0 {
		for _, path := range fs.Args() {
			path = strings.TrimSpace(path)
			if path == "" {
				fs.Usage()
				return Config{}, errors.New("path must not be empty")
			}
			cfg.Watches = append(cfg.Watches, watchSpec{
				Path:       path,
				Encoding:   *encodingFlag,
				Persistent: *persistentFlag,
				Recursive:  *recursiveFlag,
			})
		}
	} else {
		for _, watch := range file.Watches {
			spec := watchSpec{
				Path:       watch.Path,
				Encoding:   watch.Encoding,
				Persistent: true,
				Recursive:  watch.Recursive,
			}
			if watch.Persistent != nil {
				spec.Persistent = *watch.Persistent
			}
			if set["encoding"] {
				spec.Encoding = *encodingFlag
			}
			if set["persistent"] {
				spec.Persistent = *persistentFlag
			}
			if set["recursive"] {
				spec.Recursive = *recursiveFlag
			}
			cfg.Watches = append(cfg.Watches, spec)
		}
	}

	if cfg.ServeAddr != "" {
		if len(cfg.Roots) == 0 {
			fs.Usage()
			return Config{}, errors.New("serve mode requires at least one --root")
		}
		return cfg, nil
	}
	if len(cfg.Watches) == 0 {
		fs.Usage()
		return Config{}, errors.New("at least one path is required")
	}
	return cfg, nil
}

// configError marks a config file problem, reported without the usage text.
type configError struct {
	err error
}

func (e *configError) Error() string {
	return e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}

func configErr(err error) error {
	return &configError{err: err}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: fswatch [options] <path>...")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Print filesystem change events for each path, or serve them over websockets")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	writeOption(out, "--encoding NAME", "Filename encoding, or buffer for raw bytes (default: utf8)")
	writeOption(out, "--recursive", "Watch subdirectories where the platform supports it")
	writeOption(out, "--persistent", "Keep running while the watch is open (default: true)")
	writeOption(out, "--format FORMAT", "Output format: text or json (default: text)")
	writeOption(out, "--config FILE", "YAML config file (env: FSWATCH_CONFIG)")
	writeOption(out, "--retry", "Resubscribe with backoff after a watch error")
	writeOption(out, "--serve ADDR", "Serve websocket streams on ADDR instead of printing")
	writeOption(out, "--root DIR", "Directory clients may watch in serve mode (repeatable)")
	writeOption(out, "--token TOKEN", "Auth token for serve mode (env: FSWATCH_TOKEN)")
	writeOption(out, "--log-level LEVEL", "debug, info, warning or error (env: FSWATCH_LOG_LEVEL)")
	writeOption(out, "--help", "Show this help message")
	writeOption(out, "--version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  fswatch ./src")
	fmt.Fprintln(out, "  fswatch --format json --encoding buffer /var/log")
	fmt.Fprintln(out, "  fswatch --serve 127.0.0.1:9191 --root /srv/data")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes:")
	fmt.Fprintln(out, "  0  Success")
	fmt.Fprintln(out, "  1  Usage or config error")
	fmt.Fprintln(out, "  2  Watch error")
}

func writeOption(out io.Writer, name, desc string) {
	fmt.Fprintf(out, "  %-18s %s\n", name, desc)
}
