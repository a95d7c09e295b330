package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObserveCommit(t *testing.T) {
	m := New()
	m.ObserveCommit("upload", OutcomeCommitted, 120*time.Millisecond)
	m.ObserveCommit("upload", OutcomeCommitted, 80*time.Millisecond)
	m.ObserveCommit("remove", OutcomeNoOp, time.Millisecond)
	m.IncConflict()

	body := scrape(t, m)
	for _, want := range []string{
		`content_commits_total{operation="upload",outcome="committed"} 2`,
		`content_commits_total{operation="remove",outcome="noop"} 1`,
		`content_commit_conflicts_total 1`,
		`content_commit_duration_seconds_count{operation="upload"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCommit("upload", OutcomeFailed, time.Second)
	m.IncConflict()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMiddleware(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/admin/remove", nil))

	if body := scrape(t, m); !strings.Contains(body, `http_requests_total{code="404",method="DELETE"} 1`) {
		t.Errorf("exposition missing request counter:\n%s", body)
	}
}
