// Package metrics exposes Prometheus counters for questions, pipeline
// stages, enrichment batches and the retrieval index cache.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mdcapital/claimsight/internal/retrieval"
)

// Registry holds every claimsight metric plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	questions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimsight_questions_total",
		Help: "Questions answered by orchestrator mode and outcome.",
	}, []string{"mode", "outcome"})

	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimsight_stage_duration_seconds",
		Help:    "Duration of orchestrator stages.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	enrichBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimsight_enrichment_batches_total",
		Help: "Enrichment batches by outcome.",
	}, []string{"outcome"})

	indexCacheDesc = prometheus.NewDesc(
		"claimsight_index_cache_events_total",
		"Retrieval index cache events by kind.",
		[]string{"event"},
		nil,
	)
	indexCacheEntriesDesc = prometheus.NewDesc(
		"claimsight_index_cache_entries",
		"Retrieval indexes currently cached.",
		nil,
		nil,
	)
)

func init() {
	Registry.MustRegister(
		questions,
		stageDuration,
		enrichBatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordQuestion counts one answered question.
func RecordQuestion(mode string, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	questions.WithLabelValues(mode, outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordEnrichBatch counts one enrichment batch.
func RecordEnrichBatch(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "degraded"
	}
	enrichBatches.WithLabelValues(outcome).Inc()
}

// CacheStatser is implemented by retrieval.IndexCache.
type CacheStatser interface {
	Stats() retrieval.CacheStats
}

// IndexCacheCollector reads cache statistics on each scrape.
type IndexCacheCollector struct {
	cache CacheStatser
}

// Describe sends the metric descriptors to the channel.
func (c *IndexCacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- indexCacheDesc
	ch <- indexCacheEntriesDesc
}

// Collect emits the current cache counters.
func (c *IndexCacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(indexCacheDesc, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(indexCacheDesc, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(indexCacheDesc, prometheus.CounterValue, float64(s.Builds), "build")
	ch <- prometheus.MustNewConstMetric(indexCacheEntriesDesc, prometheus.GaugeValue, float64(s.Entries))
}

var cacheOnce sync.Once

// RegisterIndexCache exposes cache statistics. Only the first call has an
// effect.
func RegisterIndexCache(cache CacheStatser) {
	cacheOnce.Do(func() {
		Registry.MustRegister(&IndexCacheCollector{cache: cache})
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
