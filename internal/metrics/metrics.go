package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelMethod  = "method"
	LabelPath    = "path"
	LabelStatus  = "status"
	LabelVariant = "variant"
	LabelResult  = "result"
	LabelType    = "type"
)

var HTTPLatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// HTTP
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wheel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: HTTPLatencyBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wheel_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

// Wheel
var (
	// SpinsTotal counts spin requests by outcome: committed, payment_required,
	// already_pending, quota_exceeded, store_error.
	SpinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheel_spins_total",
			Help: "Total number of spin requests by result",
		},
		[]string{LabelVariant, LabelResult},
	)

	FulfillmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheel_fulfillment_total",
			Help: "Total number of reward deliveries by reward type and result",
		},
		[]string{LabelType, LabelResult},
	)

	QuotaUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wheel_quota_used",
			Help: "Spins consumed from today's global quota",
		},
	)

	LeasesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wheel_pending_leases_expired_total",
			Help: "Pending spins cleared by the lease sweeper",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheel_events_published_total",
			Help: "Total number of events published",
		},
		[]string{LabelType, LabelResult},
	)
)
