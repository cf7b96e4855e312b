// Package metrics exposes Prometheus instrumentation for the job
// pipeline and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. A Registerer is injected so
// tests can use isolated registries.
type Metrics struct {
	Registry *prometheus.Registry

	JobsStarted   *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	PaymentPolls  prometheus.Counter
	ChatMessages  prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg)
}

func NewWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yieldpilot_jobs_started_total",
			Help: "Jobs created, by agent type.",
		}, []string{"agent_type"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yieldpilot_jobs_finished_total",
			Help: "Jobs reaching a terminal status, by agent type and status.",
		}, []string{"agent_type", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yieldpilot_job_duration_seconds",
			Help:    "Time from job creation to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent_type"}),
		PaymentPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "yieldpilot_payment_polls_total",
			Help: "Payment gateway settlement checks.",
		}),
		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "yieldpilot_chat_messages_total",
			Help: "Chat messages processed.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yieldpilot_http_requests_total",
			Help: "HTTP requests, by method and status class.",
		}, []string{"method", "status"}),
	}
}
