package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fswatch/internal/fswatch"
	"fswatch/internal/logging"
	"fswatch/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultWatchBuffer = 64

// WatchHandler streams one watch per websocket connection. The watch ends when
// the client disconnects or the watch itself terminates.
type WatchHandler struct {
	Watcher        *fswatch.Watcher
	Roots          []string
	AuthToken      string
	AllowedOrigins []string
	Buffer         int
	Logger         *logging.Logger
	Metrics        *metrics.Registry
}

type watchPayload struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Path       string `json:"path,omitempty"`
	Event      string `json:"event,omitempty"`
	Name       string `json:"name,omitempty"`
	NameBase64 string `json:"name_base64,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger()
	if r.Method != http.MethodGet {
		writeJSONError(w, methodNotAllowed(w, http.MethodGet))
		return
	}
	if !validateToken(r, h.AuthToken) {
		writeWSError(w, r, nil, logger, wsError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}

	query := r.URL.Query()
	path, apiErr := resolveWithinRoots(query.Get("path"), h.Roots)
	if apiErr != nil {
		writeWSError(w, r, nil, logger, wsError{Status: apiErr.Status, Message: apiErr.Message})
		return
	}
	recursive := false
	if raw := strings.TrimSpace(query.Get("recursive")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeWSError(w, r, nil, logger, wsError{Status: http.StatusBadRequest, Message: "recursive must be a boolean", Err: err})
			return
		}
		recursive = parsed
	}
	encoding := fswatch.Encoding(strings.TrimSpace(query.Get("encoding")))

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(logger, r, wsError{Status: http.StatusBadRequest, Message: "websocket upgrade failed", Err: err})
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	connLogger := logger.With(map[string]string{"conn_id": connID, "watch_path": path})
	h.Metrics.AddStreamConnections(1)
	defer h.Metrics.AddStreamConnections(-1)
	connLogger.Info("watch stream opened", nil)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	watcher := h.Watcher
	if watcher == nil {
		watcher = fswatch.New(fswatch.WatcherOptions{Logger: logger, Metrics: h.Metrics})
	}
	events, errs := watcher.Watch(path, fswatch.Options{
		Encoding:   encoding,
		Persistent: fswatch.Bool(false),
		Recursive:  recursive,
	}).Stream(ctx, h.buffer())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		if err := writeWatchStream(conn, connID, path, events, errs); err != nil {
			connLogger.Debug("watch stream write failed", map[string]string{"error": err.Error()})
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
	connLogger.Info("watch stream closed", nil)
}

func writeWatchStream(conn *websocket.Conn, connID, path string, events <-chan fswatch.Event, errs <-chan error) error {
	defer conn.Close()

	if err := writeJSONMessage(conn, watchPayload{Type: "ready", ID: connID, Path: path}); err != nil {
		return err
	}
	for event := range events {
		if err := writeJSONMessage(conn, eventPayload(event)); err != nil {
			return err
		}
	}

	terminal := watchPayload{Type: "complete"}
	if err := <-errs; err != nil {
		terminal = watchPayload{Type: "error", Message: err.Error()}
	}
	if err := writeJSONMessage(conn, terminal); err != nil {
		return err
	}
	deadline := time.Now().Add(wsWriteTimeout)
	return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, terminal.Type), deadline)
}

func eventPayload(event fswatch.Event) watchPayload {
	payload := watchPayload{Type: "event", Event: string(event.Kind)}
	if event.Name.IsBytes() {
		payload.NameBase64 = base64.StdEncoding.EncodeToString(event.Name.Bytes())
	} else {
		payload.Name = event.Name.String()
	}
	return payload
}

// resolveWithinRoots makes raw absolute, relative paths being taken from the
// first root, and rejects anything that resolves outside every root. The
// returned path has its symlinks resolved, so the watch opens what was checked.
func resolveWithinRoots(raw string, roots []string) (string, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &apiError{Status: http.StatusBadRequest, Message: "path is required"}
	}
	if len(roots) == 0 {
		return "", &apiError{Status: http.StatusForbidden, Message: "no watch roots configured"}
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(roots[0], raw)
	}
	candidate, err := filepath.Abs(raw)
	if err != nil {
		return "", &apiError{Status: http.StatusBadRequest, Message: "invalid path"}
	}

	resolved := evalSymlinks(candidate)
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if isWithinPath(resolved, evalSymlinks(rootAbs)) {
			return resolved, nil
		}
	}
	return "", &apiError{Status: http.StatusForbidden, Message: "path is outside the configured roots"}
}

// evalSymlinks resolves the longest existing prefix of path, so a missing
// entry under a symlinked directory still compares against its real parent.
func evalSymlinks(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(evalSymlinks(parent), filepath.Base(path))
}

func isWithinPath(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

func (h *WatchHandler) buffer() int {
	if h.Buffer > 0 {
		return h.Buffer
	}
	return defaultWatchBuffer
}

func (h *WatchHandler) logger() *logging.Logger {
	if h.Logger == nil {
		return logging.Discard().Category("api")
	}
	return h.Logger.Category("api")
}
