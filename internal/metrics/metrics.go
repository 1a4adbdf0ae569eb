package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converso_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "converso_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converso_admission_decisions_total",
			Help: "Admission check decisions by metric and outcome.",
		},
		[]string{"metric", "outcome"},
	)

	UsageIncrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converso_usage_increments_total",
			Help: "Usage units recorded per metric.",
		},
		[]string{"metric"},
	)

	AttachmentsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "converso_attachments_swept_total",
			Help: "Attachments deleted by the retention sweeper.",
		},
	)

	AttachmentSweepFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "converso_attachment_sweep_failures_total",
			Help: "Attachments the retention sweeper failed to delete.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionDecisionsTotal,
		UsageIncrementsTotal,
		AttachmentsSweptTotal,
		AttachmentSweepFailuresTotal,
	)
}
