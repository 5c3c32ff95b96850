package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"fswatch/internal/api"
	"fswatch/internal/fswatch"
	"fswatch/internal/logging"
	"fswatch/internal/metrics"
)

const httpServerShutdownTimeout = 5 * time.Second

func runServe(ctx context.Context, drain context.Context, cfg Config, watcher *fswatch.Watcher, logger *logging.Logger, registry *metrics.Registry) int {
	listener, err := net.Listen("tcp", cfg.ServeAddr)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  cfg.ServeAddr,
			"error": err.Error(),
		})
		return exitCodeWatch
	}

	server := &http.Server{
		Handler: api.NewRouter(api.RouterOptions{
			Watcher:        watcher,
			Roots:          cfg.Roots,
			AuthToken:      cfg.Token,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
			Metrics:        registry,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	logger.Info("serving watch streams", map[string]string{
		"addr": listener.Addr().String(),
	})

	runner := &ServerRunner{Logger: logger, ShutdownTimeout: httpServerShutdownTimeout, Drain: drain}
	if serverErr := runner.Run(ctx, ManagedServer{
		Name: "watch",
		Serve: func() error {
			return server.Serve(listener)
		},
		Shutdown: server.Shutdown,
	}); serverErr != nil && !errors.Is(serverErr.err, http.ErrServerClosed) {
		return exitCodeWatch
	}
	return exitCodeSuccess
}

type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
	// Drain bounds graceful shutdown; cancelling it stops waiting early.
	Drain           context.Context
}

type serverError struct {
	name string
	err  error
}

// Run serves until stop is done or a server fails, then shuts every server
// down. It returns the error that ended the run, if any.
func (runner *ServerRunner) Run(stop context.Context, servers ...ManagedServer) *serverError {
	started := 0
	errorsChan := make(chan serverError, len(servers))
	for _, server := range servers {
		server := server
		if server.Serve == nil {
			continue
		}
		started++
		go func() {
			errorsChan <- serverError{name: server.Name, err: server.Serve()}
		}()
	}

	if started == 0 {
		return nil
	}

	var initialError *serverError
	select {
	case err := <-errorsChan:
		initialError = &err
	case <-stop.Done():
	}

	runner.logServerError(initialError)

	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	drain := runner.Drain
	if drain == nil {
		drain = context.Background()
	}
	shutdownContext, cancel := context.WithTimeout(drain, timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(shutdownContext); err != nil && runner.Logger != nil {
			runner.Logger.Warn(fmt.Sprintf("%s server shutdown failed", server.Name), map[string]string{
				"error": err.Error(),
			})
		}
	}

	runner.drainServerErrors(errorsChan, started, initialError != nil, timeout)
	return initialError
}

func (runner *ServerRunner) logServerError(serverErr *serverError) {
	if runner == nil || runner.Logger == nil || serverErr == nil || serverErr.err == nil {
		return
	}
	if errors.Is(serverErr.err, http.ErrServerClosed) {
		return
	}
	runner.Logger.Error("http server stopped", map[string]string{
		"server": serverErr.name,
		"error":  serverErr.err.Error(),
	})
}

func (runner *ServerRunner) drainServerErrors(errorsChan <-chan serverError, total int, initialLogged bool, timeout time.Duration) {
	pending := total
	if initialLogged {
		pending--
	}
	for i := 0; i < pending; i++ {
		select {
		case err := <-errorsChan:
			runner.logServerError(&err)
		case <-time.After(timeout):
			return
		}
	}
}
