package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kolesa"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, route and status."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	ListingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "listings_created_total", Help: "Listings submitted, by listing type."},
		[]string{"type"},
	)
	PaymentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_processed_total", Help: "Payment callbacks processed by provider and resulting status."},
		[]string{"provider", "status"},
	)
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_sent_total", Help: "Notification deliveries by channel and status."},
		[]string{"channel", "status"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "job_runs_total", Help: "Background job runs by job and status."},
		[]string{"job", "status"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(HTTPRequests)
	reg.MustRegister(HTTPDuration)
	reg.MustRegister(ListingsCreated)
	reg.MustRegister(PaymentsProcessed)
	reg.MustRegister(NotificationsSent)
	reg.MustRegister(JobRuns)
}
