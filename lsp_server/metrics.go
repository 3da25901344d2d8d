package lsp_server

import (
	"net/http"
	"time"

	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "juancarlos"

const (
	OutcomeClean  = "clean"
	OutcomeIssues = "issues"
	OutcomeFatal  = "fatal"
)

// Metrics counts the server's analyses. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	analyses      *prometheus.CounterVec
	diagnostics   prometheus.Counter
	duration      prometheus.Histogram
	openDocuments prometheus.Gauge
}

// NewMetrics registers the server metrics on registry, or on a new one when
// registry is nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analyses_total",
			Help:      "Documents analyzed, by outcome.",
		}, []string{"outcome"}),
		diagnostics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "diagnostics_published_total",
			Help:      "Diagnostics sent to clients.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing a document.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		openDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "open_documents",
			Help:      "Documents currently open in clients.",
		}),
	}

	registry.MustRegister(m.analyses, m.diagnostics, m.duration, m.openDocuments)
	return m
}

func outcome(result analysis.Result) string {
	switch {
	case result.Fatal:
		return OutcomeFatal
	case len(result.Diagnostics) > 0:
		return OutcomeIssues
	default:
		return OutcomeClean
	}
}

func (m *Metrics) observeAnalysis(result analysis.Result, took time.Duration) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome(result)).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) observePublish(count int) {
	if m == nil {
		return
	}
	m.diagnostics.Add(float64(count))
}

func (m *Metrics) addOpenDocuments(delta float64) {
	if m == nil {
		return
	}
	m.openDocuments.Add(delta)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
