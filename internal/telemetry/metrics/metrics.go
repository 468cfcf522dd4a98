package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collection counters. Labels stay low-cardinality: exchange ids and fixed
// job/result names only, never symbols.
var (
	CollectRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_collect_runs_total",
		Help: "Collection job executions by exchange, job type and result.",
	}, []string{"exchange", "job", "result"})

	CandlesStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_candles_stored_total",
		Help: "Candles written to the store by exchange.",
	}, []string{"exchange"})

	GapFillRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_gapfill_records_total",
		Help: "Candles written by the gap-fill reconciler by exchange.",
	}, []string{"exchange"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_cache_hits_total",
		Help: "Read requests answered from cache by data kind.",
	}, []string{"kind"})

	RateLimitPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_ratelimit_pauses_total",
		Help: "Exchange pauses triggered by venue rate limits.",
	}, []string{"exchange"})
)

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
