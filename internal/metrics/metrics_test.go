package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
		{700, "unknown"},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.code); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRecordItems(t *testing.T) {
	before := testutil.ToFloat64(itemsTotal.WithLabelValues(ItemError))

	RecordItems(ItemError, 3)
	RecordItems(ItemError, 0)

	if got := testutil.ToFloat64(itemsTotal.WithLabelValues(ItemError)) - before; got != 3 {
		t.Errorf("error items delta = %v, want 3", got)
	}
}

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("completed", "csv"))

	RecordRun("completed", "csv", 2*time.Second)

	if got := testutil.ToFloat64(runsTotal.WithLabelValues("completed", "csv")) - before; got != 1 {
		t.Errorf("completed runs delta = %v, want 1", got)
	}
}

func TestRecordDedup(t *testing.T) {
	okBefore := testutil.ToFloat64(dedupRunsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(dedupRunsTotal.WithLabelValues("error"))
	conflictsBefore := testutil.ToFloat64(dedupConflictsTotal)

	RecordDedup(4, nil)
	RecordDedup(0, errors.New("boom"))

	if got := testutil.ToFloat64(dedupRunsTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(dedupRunsTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(dedupConflictsTotal) - conflictsBefore; got != 4 {
		t.Errorf("conflicts delta = %v, want 4", got)
	}
}

func TestHandlerExposesInstruments(t *testing.T) {
	RecordUIDs("ws", 5)
	SetActiveRuns(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"feedpipe_uids_allocated_total", "feedpipe_active_runs 2"} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %q", name)
		}
	}
}
