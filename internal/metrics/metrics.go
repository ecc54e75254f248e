package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverank",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liverank",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	TMDBRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverank",
		Name:      "tmdb_requests_total",
		Help:      "Total TMDB search requests by endpoint and result status.",
	}, []string{"endpoint", "status"})

	TMDBRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liverank",
		Name:      "tmdb_request_duration_seconds",
		Help:      "TMDB search request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	TMDBInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "liverank",
		Name:      "tmdb_in_flight",
		Help:      "TMDB search requests currently holding a limiter permit.",
	})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverank",
		Name:      "cache_hits_total",
		Help:      "Total cache hits by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverank",
		Name:      "cache_misses_total",
		Help:      "Total cache misses by cache name.",
	}, []string{"cache"})

	EnrichmentMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverank",
		Name:      "enrichment_misses_total",
		Help:      "Titles for which no metadata could be resolved.",
	})

	RowsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverank",
		Name:      "rows_dropped_total",
		Help:      "Raw rows dropped during normalization by dataset.",
	}, []string{"dataset"})

	SourceLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liverank",
		Name:      "source_load_duration_seconds",
		Help:      "Time spent reading a ranking dataset.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"dataset"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TMDBRequestsTotal,
		TMDBRequestDuration,
		TMDBInFlight,
		CacheHitsTotal,
		CacheMissesTotal,
		EnrichmentMissesTotal,
		RowsDroppedTotal,
		SourceLoadDuration,
	)
}
