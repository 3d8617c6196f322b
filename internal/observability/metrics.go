package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hitchr"

var (
	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "feed_requests_total", Help: "Feed computations by viewer mode"},
		[]string{"mode"},
	)
	FeedLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "feed_latency_seconds", Help: "Feed computation latency seconds"})
	FeedStageListings = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_stage_listings",
			Help:      "Listings remaining after each pipeline stage",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"stage"},
	)

	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "quotes_total", Help: "Price quotes by category"},
		[]string{"category"},
	)
	ETAResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "eta_results_total", Help: "ETA computations by outcome"},
		[]string{"outcome"},
	)
	LocationPingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_pings_total", Help: "Location pings accepted by sink"},
		[]string{"sink"},
	)
	HotShotPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "hotshot_publishes_total", Help: "Hot Shot config saves by result"},
		[]string{"result"},
	)
	FeedSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "feed_sessions", Help: "Open live feed sessions"})

	// ConsumerMessagesTotal counts ping messages read by the ingest worker:
	// applied, stale, invalid or failed.
	ConsumerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "consumer_messages_total", Help: "Location ping messages consumed by outcome"},
		[]string{"outcome"},
	)

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
)
