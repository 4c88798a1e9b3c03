package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObservePipelineDuration("scss", 150*time.Millisecond)
	pr.IncPipelineResult("scss", ResultSuccess)
	pr.IncPipelineResult("rust", ResultFailed)
	pr.IncPipelineResult("rust", ResultFailed)
	pr.ObserveGenerationDuration(500 * time.Millisecond)
	pr.IncGenerationOutcome(OutcomeSucceeded)
	pr.SetGeneration(7)
	pr.IncBroadcast("reload")
	pr.SetReloadClients(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(pr.pipelineResults.WithLabelValues("scss", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pr.pipelineResults.WithLabelValues("rust", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.generationOutcomes.WithLabelValues("succeeded")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pr.generation))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.broadcasts.WithLabelValues("reload")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pr.reloadClients))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObservePipelineDuration("css", time.Second)
	pr.IncPipelineResult("css", ResultCanceled)
	pr.ObserveGenerationDuration(time.Second)
	pr.IncGenerationOutcome(OutcomeFailed)
	pr.SetGeneration(1)
	pr.IncBroadcast("error")
	pr.SetReloadClients(0)

	var r Recorder = OrNoop(nil)
	r.IncGenerationOutcome(OutcomeSuperseded)
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncGenerationOutcome(OutcomeSucceeded)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tramline_generation_outcomes_total{outcome="succeeded"} 1`)
}
