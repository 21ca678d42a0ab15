package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := Register(reg); err == nil {
		t.Error("Register() twice expected AlreadyRegistered error")
	}
}

func TestCollectorsRecord(t *testing.T) {
	counter := IngestMessagesTotal.WithLabelValues("door", OutcomeSuccess)
	before := testutil.ToFloat64(counter)
	counter.Inc()

	if delta := testutil.ToFloat64(counter) - before; delta != 1 {
		t.Errorf("ingest counter delta = %v, want 1", delta)
	}
}

func TestHandler_ExposesCollectors(t *testing.T) {
	MustRegister()
	MustRegister() // idempotent

	IntegrityAlertsTotal.Add(0)
	SchedulerTwinRunsTotal.WithLabelValues(OutcomeSkipped).Add(0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"medtwin_integrity_alerts_total",
		"medtwin_scheduler_twin_runs_total",
		"medtwin_scheduler_ticks_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("/metrics output missing %s", name)
		}
	}
}
