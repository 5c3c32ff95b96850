package api

import (
	"net/http"

	"fswatch/internal/fswatch"
	"fswatch/internal/logging"
	"fswatch/internal/metrics"
	"fswatch/internal/version"
)

type RouterOptions struct {
	Watcher        *fswatch.Watcher
	Roots          []string
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
	Metrics        *metrics.Registry
}

type healthResponse struct {
	Status              string              `json:"status"`
	Version             version.VersionInfo `json:"version"`
	ActiveSubscriptions int64               `json:"active_subscriptions"`
	StreamConnections   int64               `json:"stream_connections"`
}

// NewRouter serves /watch, /metrics and /healthz.
func NewRouter(options RouterOptions) http.Handler {
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	watcher := options.Watcher
	if watcher == nil {
		watcher = fswatch.New(fswatch.WatcherOptions{Logger: logger, Metrics: registry})
	}

	mux := http.NewServeMux()
	mux.Handle("/watch", &WatchHandler{
		Watcher:        watcher,
		Roots:          options.Roots,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
		Logger:         logger,
		Metrics:        registry,
	})
	mux.Handle("/metrics", restHandler(options.AuthToken, metricsHandler(registry)))
	mux.Handle("/healthz", restHandler("", healthHandler(registry)))
	return loggingMiddleware(logger.Category("api"), mux)
}

func metricsHandler(registry *metrics.Registry) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) *apiError {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := registry.WritePrometheus(w); err != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "failed to write metrics"}
		}
		return nil
	}
}

func healthHandler(registry *metrics.Registry) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) *apiError {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, http.MethodGet)
		}
		snapshot := registry.Snapshot()
		writeJSON(w, http.StatusOK, healthResponse{
			Status:              "ok",
			Version:             version.GetVersionInfo(),
			ActiveSubscriptions: snapshot.ActiveSubscriptions,
			StreamConnections:   snapshot.StreamConnections,
		})
		return nil
	}
}
