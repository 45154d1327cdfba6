package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoapply"

// Metrics holds the collectors shared by the scheduler and the pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	WorkflowsStarted  *prometheus.CounterVec
	WorkflowsFinished *prometheus.CounterVec
	WorkflowDuration  prometheus.Histogram
	Applications      *prometheus.CounterVec
	Postings          *prometheus.CounterVec

	ActiveUsers      prometheus.Gauge
	RunningWorkflows prometheus.Gauge
	RateLimitedUsers prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		WorkflowsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "started_total",
			Help:      "Workflow executions started, by trigger.",
		}, []string{"trigger"}),
		WorkflowsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "finished_total",
			Help:      "Workflow executions finished, by final status.",
		}, []string{"status"}),
		WorkflowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Duration of workflow executions.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		Applications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_total",
			Help:      "Applications processed, by outcome.",
		}, []string{"status"}),
		Postings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "postings_total",
			Help:      "Postings seen by the recommendation pipeline, by stage.",
		}, []string{"stage"}),
		ActiveUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Users with automation enabled.",
		}),
		RunningWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_workflows",
			Help:      "Workflow executions currently running.",
		}),
		RateLimitedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limited_users",
			Help:      "Users inside a backoff window.",
		}),
	}
}

func (m *Metrics) WorkflowStarted(trigger string) {
	if m == nil {
		return
	}
	m.WorkflowsStarted.WithLabelValues(trigger).Inc()
}

func (m *Metrics) WorkflowFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowsFinished.WithLabelValues(status).Inc()
	m.WorkflowDuration.Observe(d.Seconds())
}

func (m *Metrics) Application(status string) {
	if m == nil {
		return
	}
	m.Applications.WithLabelValues(status).Inc()
}

// Pipeline counts postings at each pipeline stage.
func (m *Metrics) Pipeline(candidates, filtered, final int) {
	if m == nil {
		return
	}
	m.Postings.WithLabelValues("candidates").Add(float64(candidates))
	m.Postings.WithLabelValues("filtered").Add(float64(filtered))
	m.Postings.WithLabelValues("final").Add(float64(final))
}

func (m *Metrics) Gauges(active, running, rateLimited int) {
	if m == nil {
		return
	}
	m.ActiveUsers.Set(float64(active))
	m.RunningWorkflows.Set(float64(running))
	m.RateLimitedUsers.Set(float64(rateLimited))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
