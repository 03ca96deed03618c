// Package observability exposes the pipeline's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters the pipeline components increment.
type Metrics struct {
	webhookDeliveries *prometheus.CounterVec
	ingestOutcomes    *prometheus.CounterVec
	jobResults        *prometheus.CounterVec
	outboundSends     *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

// NewMetrics registers the pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopline_webhook_deliveries_total",
			Help: "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ingestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopline_ingest_outcomes_total",
			Help: "Ingestion results: inserted, duplicate, error.",
		}, []string{"outcome"}),
		jobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopline_job_results_total",
			Help: "Job completions by queue and result.",
		}, []string{"queue", "result"}),
		outboundSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopline_outbound_sends_total",
			Help: "Outbound sends by transport and outcome.",
		}, []string{"transport", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopline_job_duration_seconds",
			Help:    "Job processing duration by queue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}
	reg.MustRegister(m.webhookDeliveries, m.ingestOutcomes, m.jobResults, m.outboundSends, m.jobDuration)
	return m
}

// NewNopMetrics returns metrics wired to a throwaway registry, for tests.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) WebhookDelivery(provider, outcome string) {
	m.webhookDeliveries.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IngestOutcome(outcome string) {
	m.ingestOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobResult(queue, result string) {
	m.jobResults.WithLabelValues(queue, result).Inc()
}

func (m *Metrics) OutboundSend(transport, outcome string) {
	m.outboundSends.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) ObserveJobDuration(queue string, seconds float64) {
	m.jobDuration.WithLabelValues(queue).Observe(seconds)
}
