package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fswatch/internal/metrics"
)

func TestHealthz(t *testing.T) {
	registry := &metrics.Registry{}
	registry.IncSubscriptionStarted()
	handler := NewRouter(RouterOptions{Metrics: registry, AuthToken: "secret"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || payload.ActiveSubscriptions != 1 || payload.Version.Version == "" {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestMetricsRequiresToken(t *testing.T) {
	registry := &metrics.Registry{}
	registry.IncEventDelivered("rename")
	handler := NewRouter(RouterOptions{Metrics: registry, AuthToken: "secret"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `fswatch_events_delivered_total{kind="rename"} 1`) {
		t.Fatalf("unexpected metrics body:\n%s", body)
	}
}

func TestMetricsRejectsPost(t *testing.T) {
	handler := NewRouter(RouterOptions{Metrics: &metrics.Registry{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("expected Allow header, got %q", rec.Header().Get("Allow"))
	}
}
