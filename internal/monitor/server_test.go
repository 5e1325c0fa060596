package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/otcheredev/ris-ups-client/internal/eventlog"
	"github.com/otcheredev/ris-ups-client/internal/handlers"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T, checks map[string]handlers.Check) (*httptest.Server, eventlog.Store) {
	t.Helper()
	store := eventlog.NewMemoryStore(eventlog.Options{Capacity: 10, TTL: time.Hour})
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ups_client_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(NewRouter(Config{Events: store, Gatherer: reg, Checks: checks}))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, map[string]handlers.Check{
		"eventlog": func(ctx context.Context) error { return nil },
	})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "healthy" || body.Services["eventlog"] != "healthy" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	srv, _ := newTestServer(t, map[string]handlers.Check{
		"audit": func(ctx context.Context) error { return errors.New("down") },
	})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /ready, got %d", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	srv, store := newTestServer(t, nil)

	ctx := context.Background()
	for _, uid := range []string{"1.2.1", "1.2.2", "1.2.3"} {
		_ = store.Append(ctx, eventlog.Entry{ID: uid, AffectedSOPInstanceUID: uid, ReceivedAt: time.Now()})
	}

	resp, err := http.Get(srv.URL + "/events?limit=2")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Count  int              `json:"count"`
		Events []eventlog.Entry `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Count != 2 || body.Events[0].ID != "1.2.3" {
		t.Fatalf("unexpected body %+v", body)
	}

	bad, err := http.Get(srv.URL + "/events?limit=abc")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(raw), "ups_client_test_total 1") {
		t.Fatalf("metric missing from output:\n%s", string(raw))
	}
}
