package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CommissionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_commissions_created_total",
			Help: "Commission rows written, by level",
		},
		[]string{"level"},
	)

	CommissionDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affiliate_commission_duplicates_total",
			Help: "Commission writes skipped because the row already existed",
		},
	)

	IntegrityWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_integrity_warnings_total",
			Help: "Sponsor chain integrity problems found during commission walks",
		},
		[]string{"kind"},
	)

	PayoutItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_payout_items_total",
			Help: "Payout items attempted, by outcome",
		},
		[]string{"outcome"},
	)

	PayoutAmountSettled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affiliate_payout_settled_minor_units_total",
			Help: "Sum of settled payout amounts in minor units",
		},
	)

	PayoutBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affiliate_payout_batch_duration_seconds",
			Help:    "Wall time of payout batch runs",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"kind"},
	)

	GatewayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "affiliate_payout_gateway_seconds",
			Help:    "Latency of payout gateway calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)
