package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "requests_created_total", Help: "Total emergency requests persisted"})
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "matches_total", Help: "Total match queries completed"})
	MatchQueryErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "match_query_errors_total", Help: "Donor index query failures collapsed to empty results"})
	MatchCandidates  = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "blood_connect", Name: "match_candidates", Help: "Matched donor set sizes",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	NotificationsSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "notifications_sent_total", Help: "Emergency emails dispatched successfully"})
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "notifications_failed_total", Help: "Emergency email dispatch failures"})
	PushDelivered       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "push_delivered_total", Help: "Live pushes delivered to connected donors"})
	PushMissed          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "blood_connect", Name: "push_missed_total", Help: "Live pushes skipped for disconnected donors"})

	DonorsConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "blood_connect", Name: "donors_connected", Help: "Donors with an active websocket session"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "blood_connect", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blood_connect",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
