// Package metrics records pipeline metrics. Components depend on the
// Recorder interface and receive NoopRecorder unless Prometheus is
// wired in, so instrumentation costs nothing when disabled.
package metrics

import "time"

// Recorder is the metrics surface used by the server and runner.
type Recorder interface {
	// IncTaskReceived counts an accepted job by kind (event, pr_comment).
	IncTaskReceived(kind string)
	// SetQueueDepth tracks the number of queued jobs.
	SetQueueDepth(n int)
	// ObserveStepDuration records how long one state-machine step took.
	ObserveStepDuration(step string, d time.Duration)
	// IncStepResult counts a step outcome (ok, fail).
	IncStepResult(step, result string)
	// IncTraceOutcome counts a finished trace (done, failed).
	IncTraceOutcome(outcome string)
}

// NoopRecorder is the default zero-overhead implementation.
type NoopRecorder struct{}

func (NoopRecorder) IncTaskReceived(string)                    {}
func (NoopRecorder) SetQueueDepth(int)                         {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) IncStepResult(string, string)              {}
func (NoopRecorder) IncTraceOutcome(string)                    {}

var _ Recorder = NoopRecorder{}
