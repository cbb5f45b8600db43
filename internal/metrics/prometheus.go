package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder on a private registry.
type PrometheusRecorder struct {
	registry      *prom.Registry
	tasksReceived *prom.CounterVec
	queueDepth    prom.Gauge
	stepDuration  *prom.HistogramVec
	stepResults   *prom.CounterVec
	traceOutcomes *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the pipeline metrics.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{registry: prom.NewRegistry()}

	r.tasksReceived = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "repairops",
		Name:      "tasks_received_total",
		Help:      "Accepted jobs by kind",
	}, []string{"kind"})
	r.queueDepth = prom.NewGauge(prom.GaugeOpts{
		Namespace: "repairops",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker",
	})
	r.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "repairops",
		Name:      "step_duration_seconds",
		Help:      "Duration of state-machine steps",
		Buckets:   prom.DefBuckets,
	}, []string{"step"})
	r.stepResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "repairops",
		Name:      "step_results_total",
		Help:      "Step outcomes",
	}, []string{"step", "result"})
	r.traceOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "repairops",
		Name:      "trace_outcomes_total",
		Help:      "Finished traces by final status",
	}, []string{"outcome"})

	r.registry.MustRegister(r.tasksReceived, r.queueDepth, r.stepDuration, r.stepResults, r.traceOutcomes)
	return r
}

// Handler serves the /metrics endpoint for this recorder's registry.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) IncTaskReceived(kind string) {
	r.tasksReceived.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) SetQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

func (r *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncStepResult(step, result string) {
	r.stepResults.WithLabelValues(step, result).Inc()
}

func (r *PrometheusRecorder) IncTraceOutcome(outcome string) {
	r.traceOutcomes.WithLabelValues(outcome).Inc()
}

var _ Recorder = (*PrometheusRecorder)(nil)
