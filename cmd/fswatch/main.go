package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fswatch/internal/fswatch"
	"fswatch/internal/logging"
	"fswatch/internal/metrics"
	"fswatch/internal/version"
)

func main() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, signals))
}

func run(args []string, out io.Writer, errOut io.Writer, signals <-chan os.Signal) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		fmt.Fprintf(errOut, "fswatch: %v\n", err)
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		fmt.Fprintln(out, version.GetVersionInfo().String())
		return exitCodeSuccess
	}

	logger := logging.NewLoggerWithOutput(nil, cfg.LogLevel, errOut)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	drainCtx, force := context.WithCancel(context.Background())
	defer force()
	stopSignals := shutdownSignals{Logger: logger, Stop: cancel, Force: force}.listen(signals)
	defer stopSignals()

	registry := metrics.Default
	watcher := fswatch.New(fswatch.WatcherOptions{Logger: logger, Metrics: registry})

	if cfg.ServeAddr != "" {
		return runServe(ctx, drainCtx, cfg, watcher, logger, registry)
	}

	runner := &watchRunner{
		Watcher:         watcher,
		Printer:         newPrinter(out, cfg.Format, len(cfg.Watches) > 1),
		Logger:          logger.Category("cli"),
		Drain:           drainCtx,
		Retry:           cfg.Retry,
		RetryInitial:    cfg.RetryInitial,
		RetryMax:        cfg.RetryMax,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	}
	if err := runner.Run(ctx, cfg.Watches); err != nil {
		fmt.Fprintf(errOut, "fswatch: %v\n", err)
		return exitCodeWatch
	}
	return exitCodeSuccess
}
