package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tramline"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	pipelineDuration   *prom.HistogramVec
	pipelineResults    *prom.CounterVec
	generationDuration prom.Histogram
	generationOutcomes *prom.CounterVec
	generation         prom.Gauge
	broadcasts         *prom.CounterVec
	reloadClients      prom.Gauge
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		pipelineDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of individual pipeline executions",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		pipelineResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_results_total",
			Help:      "Pipeline results by kind and outcome",
		}, []string{"kind", "result"}),
		generationDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of a build generation from start to publish or failure",
			Buckets:   prom.DefBuckets,
		}),
		generationOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "generation_outcomes_total",
			Help:      "Build generations by terminal state",
		}, []string{"outcome"}),
		generation: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Identifier of the most recently started generation",
		}),
		broadcasts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "live_reload_broadcasts_total",
			Help:      "Live reload messages broadcast by type",
		}, []string{"type"}),
		reloadClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "live_reload_clients",
			Help:      "Currently connected live reload clients",
		}),
	}
	reg.MustRegister(
		pr.pipelineDuration, pr.pipelineResults,
		pr.generationDuration, pr.generationOutcomes, pr.generation,
		pr.broadcasts, pr.reloadClients,
	)
	return pr
}

func (p *PrometheusRecorder) ObservePipelineDuration(kind string, d time.Duration) {
	if p == nil || p.pipelineDuration == nil {
		return
	}
	p.pipelineDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPipelineResult(kind string, result ResultLabel) {
	if p == nil || p.pipelineResults == nil {
		return
	}
	p.pipelineResults.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveGenerationDuration(d time.Duration) {
	if p == nil || p.generationDuration == nil {
		return
	}
	p.generationDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncGenerationOutcome(outcome OutcomeLabel) {
	if p == nil || p.generationOutcomes == nil {
		return
	}
	p.generationOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetGeneration(gen uint64) {
	if p == nil || p.generation == nil {
		return
	}
	p.generation.Set(float64(gen))
}

func (p *PrometheusRecorder) IncBroadcast(messageType string) {
	if p == nil || p.broadcasts == nil {
		return
	}
	p.broadcasts.WithLabelValues(messageType).Inc()
}

func (p *PrometheusRecorder) SetReloadClients(n int) {
	if p == nil || p.reloadClients == nil {
		return
	}
	p.reloadClients.Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves the metrics gathered by g.
func HTTPHandler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
