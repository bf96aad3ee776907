package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsDispatched = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "requests_dispatched_total", Help: "Delivery requests broadcast to at least one candidate"})
	RequestsAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "requests_accepted_total", Help: "Delivery requests claimed by a driver"})
	RequestsExpired    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "requests_expired_total", Help: "Delivery requests that expired unclaimed"})
	BroadcastFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "broadcast_publish_failures_total", Help: "Per-recipient bus publish failures during broadcast"})

	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "reconcile_outcomes_total", Help: "Reconcile invocations by branch taken"},
		[]string{"outcome"},
	)
	WalletApplyFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "wallet_apply_failures_total", Help: "Rejected wallet mutations"})
	DriversOnline       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "courier_dispatch", Name: "drivers_online", Help: "Drivers currently reporting locations"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
