package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderExposesMetrics(t *testing.T) {
	r := NewPrometheusRecorder()
	r.IncTaskReceived("event")
	r.SetQueueDepth(3)
	r.ObserveStepDuration("CREATE_PR", 250*time.Millisecond)
	r.IncStepResult("CREATE_PR", "ok")
	r.IncTraceOutcome("done")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `repairops_tasks_received_total{kind="event"} 1`)
	assert.Contains(t, body, "repairops_queue_depth 3")
	assert.Contains(t, body, `repairops_step_results_total{result="ok",step="CREATE_PR"} 1`)
	assert.Contains(t, body, `repairops_trace_outcomes_total{outcome="done"} 1`)
}

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncTaskReceived("event")
	r.SetQueueDepth(1)
	r.ObserveStepDuration("x", time.Second)
	r.IncStepResult("x", "fail")
	r.IncTraceOutcome("failed")
}
