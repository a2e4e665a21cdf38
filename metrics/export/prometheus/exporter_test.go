package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct{ dropped uint64 }

func (f *fakeSource) AuditDropped() uint64 { return f.dropped }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestHandlerExportsAuditDrops(t *testing.T) {
	exp, err := NewExporter("authcore")
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	src := &fakeSource{dropped: 2}
	if err := exp.WatchAudit(src); err != nil {
		t.Fatalf("watch audit: %v", err)
	}

	out := scrape(t, exp.Handler())
	if !strings.Contains(out, "authcore_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter, got:\n%s", out)
	}
	if !strings.Contains(out, "go_goroutines") {
		t.Fatalf("expected runtime collector output, got:\n%s", out)
	}

	src.dropped = 5
	if out := scrape(t, exp.Handler()); !strings.Contains(out, "authcore_audit_dropped_total 5") {
		t.Fatalf("counter should read the source on every scrape, got:\n%s", out)
	}
}

func TestRegistryAcceptsEngineCounters(t *testing.T) {
	exp, err := NewExporter("authcore")
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	c := prom.NewCounter(prom.CounterOpts{Namespace: "authcore", Name: "login_total", Help: "test"})
	if err := exp.Registry().Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Add(3)

	if out := scrape(t, exp.Handler()); !strings.Contains(out, "authcore_login_total 3") {
		t.Fatalf("expected custom counter, got:\n%s", out)
	}
}

func TestWatchAuditTwiceFails(t *testing.T) {
	exp, err := NewExporter("authcore")
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if err := exp.WatchAudit(&fakeSource{}); err != nil {
		t.Fatalf("first watch: %v", err)
	}
	if err := exp.WatchAudit(&fakeSource{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
