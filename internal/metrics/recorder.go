// Package metrics defines the observability hooks of the build orchestrator
// and their Prometheus implementation.
package metrics

import "time"

// ResultLabel enumerates pipeline result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// OutcomeLabel enumerates the terminal states of a generation.
type OutcomeLabel string

const (
	OutcomeSucceeded  OutcomeLabel = "succeeded"
	OutcomeFailed     OutcomeLabel = "failed"
	OutcomeSuperseded OutcomeLabel = "superseded"
)

// Recorder defines observability hooks for generations, pipelines and live
// reload. Implementations must tolerate nil receivers so a recorder can be
// injected optionally.
type Recorder interface {
	ObservePipelineDuration(kind string, d time.Duration)
	IncPipelineResult(kind string, result ResultLabel)
	ObserveGenerationDuration(d time.Duration)
	IncGenerationOutcome(outcome OutcomeLabel)
	SetGeneration(gen uint64)
	IncBroadcast(messageType string)
	SetReloadClients(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePipelineDuration(string, time.Duration) {}
func (NoopRecorder) IncPipelineResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveGenerationDuration(time.Duration)       {}
func (NoopRecorder) IncGenerationOutcome(OutcomeLabel)             {}
func (NoopRecorder) SetGeneration(uint64)                          {}
func (NoopRecorder) IncBroadcast(string)                           {}
func (NoopRecorder) SetReloadClients(int)                          {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
