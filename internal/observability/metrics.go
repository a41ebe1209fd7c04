package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_rewards"

var (
	MintsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "mints_total", Help: "Mint attempts by outcome"},
		[]string{"vehicle_class", "outcome"},
	)
	RewardUnitsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reward_units_issued_total", Help: "Reward units issued"},
		[]string{"vehicle_class"},
	)
	RateUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rate_updates_total", Help: "Successful reward rate updates"})

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "claims_total", Help: "Cumulative distance claims by outcome"},
		[]string{"outcome"},
	)

	CarbonCalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "carbon_calculations_total", Help: "Trip carbon calculations by outcome"},
		[]string{"outcome"},
	)
	OracleUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "oracle_updates_total", Help: "Successful oracle updates"},
		[]string{"kind"},
	)
	OffsetHoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offset_holds_total", Help: "Carbon offset payment holds by outcome"},
		[]string{"outcome"},
	)
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Open receipt websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter"})
)
