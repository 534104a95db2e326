// Package metrics defines the Prometheus collectors of a wordfreq run and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cognicore/wordfreq/pkg/wordfreq/filter"
)

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	ChunksProcessed    prometheus.Counter
	ChunksSkipped      prometheus.Counter
	RegionsDiscarded   prometheus.Counter
	TokensTotal        *prometheus.CounterVec
	LemmasStored       prometheus.Gauge
	AnnotateDuration   prometheus.Histogram
	StoreApplyDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wordfreq_chunks_processed_total",
				Help: "Chunks annotated and applied to the store.",
			},
		),
		ChunksSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wordfreq_chunks_skipped_total",
				Help: "Chunks skipped on resume because a checkpoint already covers them.",
			},
		),
		RegionsDiscarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wordfreq_regions_discarded_total",
				Help: "Malformed regions dropped by the chunker.",
			},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wordfreq_tokens_total",
				Help: "Annotated tokens by filter outcome (accepted or the rejecting rule).",
			},
			[]string{"reason"},
		),
		LemmasStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wordfreq_lemmas_stored",
				Help: "Distinct lemmas in the store after the last run.",
			},
		),
		AnnotateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wordfreq_annotate_duration_seconds",
				Help:    "Latency of one annotator batch call.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		StoreApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wordfreq_store_apply_duration_seconds",
				Help:    "Latency of applying one chunk delta to the store.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
	}

	reg.MustRegister(
		m.ChunksProcessed,
		m.ChunksSkipped,
		m.RegionsDiscarded,
		m.TokensTotal,
		m.LemmasStored,
		m.AnnotateDuration,
		m.StoreApplyDuration,
	)

	// Expose every reason from the start so rates work from zero.
	for _, r := range filter.Reasons {
		m.TokensTotal.WithLabelValues(string(r))
	}
	return m
}

// ObserveToken counts one token classification.
func (m *Metrics) ObserveToken(reason filter.Reason) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(string(reason)).Inc()
}

// ChunkProcessed counts one applied chunk.
func (m *Metrics) ChunkProcessed() {
	if m == nil {
		return
	}
	m.ChunksProcessed.Inc()
}

// ChunkSkipped counts one chunk skipped on resume.
func (m *Metrics) ChunkSkipped() {
	if m == nil {
		return
	}
	m.ChunksSkipped.Inc()
}

// Discarded adds n dropped regions.
func (m *Metrics) Discarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RegionsDiscarded.Add(float64(n))
}

// SetLemmas records the store size.
func (m *Metrics) SetLemmas(n int64) {
	if m == nil {
		return
	}
	m.LemmasStored.Set(float64(n))
}

// ObserveAnnotate records one annotator call.
func (m *Metrics) ObserveAnnotate(d time.Duration) {
	if m == nil {
		return
	}
	m.AnnotateDuration.Observe(d.Seconds())
}

// ObserveApply records one store write.
func (m *Metrics) ObserveApply(d time.Duration) {
	if m == nil {
		return
	}
	m.StoreApplyDuration.Observe(d.Seconds())
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
