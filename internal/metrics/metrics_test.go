package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.WorkflowStarted("manual")
	m.WorkflowStarted("manual")
	m.WorkflowFinished("idle", 3*time.Second)
	m.Application("submitted")
	m.Pipeline(30, 12, 5)
	m.Gauges(4, 2, 1)

	if got := testutil.ToFloat64(m.WorkflowsStarted.WithLabelValues("manual")); got != 2 {
		t.Fatalf("expected 2 started workflows, got %v", got)
	}
	if got := testutil.ToFloat64(m.Postings.WithLabelValues("filtered")); got != 12 {
		t.Fatalf("expected 12 filtered postings, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunningWorkflows); got != 2 {
		t.Fatalf("expected 2 running workflows, got %v", got)
	}
	if n := testutil.CollectAndCount(m.WorkflowDuration); n != 1 {
		t.Fatalf("expected one histogram, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.WorkflowStarted("manual")
	m.WorkflowFinished("error", time.Second)
	m.Application("failed")
	m.Pipeline(1, 1, 1)
	m.Gauges(1, 1, 1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Application("submitted")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `autoapply_applications_total{status="submitted"} 1`) {
		t.Fatalf("expected application counter in output:\n%s", body)
	}
}
