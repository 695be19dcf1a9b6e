package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the pipeline and query counters on a private prometheus
// registry so tests can construct isolated instances.
type Registry struct {
	reg *prometheus.Registry

	RowsLoaded   prometheus.Counter
	RowsRejected prometheus.Counter
	ETLRuns      prometheus.Counter
	ETLFailures  prometheus.Counter

	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	QueryDuration prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	rowsLoaded := prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_rows_loaded_total"})
	rowsRejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_rows_rejected_total"})
	etlRuns := prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_etl_runs_total"})
	etlFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_etl_failures_total"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_cache_hits_total"})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_cache_misses_total"})
	queryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "traffic_query_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(rowsLoaded, rowsRejected, etlRuns, etlFailures, cacheHits, cacheMisses, queryDuration)
	return &Registry{
		reg:           r,
		RowsLoaded:    rowsLoaded,
		RowsRejected:  rowsRejected,
		ETLRuns:       etlRuns,
		ETLFailures:   etlFailures,
		CacheHits:     cacheHits,
		CacheMisses:   cacheMisses,
		QueryDuration: queryDuration,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
