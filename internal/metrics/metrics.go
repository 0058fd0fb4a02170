package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/elonfeng/postagent/pkg/pipeline"
)

// Metrics holds the collectors for one registry. Commands that run once and
// exit still record into it so `serve` and tests can share the code path.
type Metrics struct {
	Runs           *prometheus.CounterVec
	Candidates     prometheus.Histogram
	GeneratorCalls prometheus.Counter
	QualityScore   prometheus.Histogram
	Similarity     prometheus.Histogram
	Publishes      *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	NextEligible   prometheus.Gauge
	LastSuccess    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postagent_runs_total",
			Help: "Pipeline runs by outcome status and failure kind",
		}, []string{"status", "kind"}),
		Candidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postagent_run_candidates",
			Help:    "Candidates generated per run",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
		GeneratorCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "postagent_generator_calls_total",
			Help: "Generator calls including retries",
		}),
		QualityScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postagent_quality_score",
			Help:    "Final quality score of accepted posts",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		Similarity: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postagent_similarity_score",
			Help:    "Highest similarity to history of the last checked candidate",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		Publishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postagent_publish_total",
			Help: "Publish attempts by result",
		}, []string{"result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "postagent_queue_depth",
			Help: "Pending queue items",
		}),
		NextEligible: f.NewGauge(prometheus.GaugeOpts{
			Name: "postagent_next_eligible_timestamp_seconds",
			Help: "Unix time of the next eligible post",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "postagent_last_success_timestamp_seconds",
			Help: "Unix time of the last published post",
		}),
	}
}

// ObserveOutcome records one pipeline run.
func (m *Metrics) ObserveOutcome(out pipeline.Outcome) {
	kind := out.Kind()
	if kind == "" {
		kind = "none"
	}
	m.Runs.WithLabelValues(string(out.Status), kind).Inc()
	m.GeneratorCalls.Add(float64(out.GeneratorCalls))
	if out.Candidates > 0 {
		m.Candidates.Observe(float64(out.Candidates))
		m.Similarity.Observe(out.Similarity)
	}
	if out.Status == pipeline.StatusAccepted {
		m.QualityScore.Observe(out.Quality.Final)
	}
}

// ObservePublish records a publisher result: "ok", "dry_run" or "error".
func (m *Metrics) ObservePublish(result string, at time.Time) {
	m.Publishes.WithLabelValues(result).Inc()
	if result != "error" {
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

// SetSchedule records queue depth and the next eligible time.
func (m *Metrics) SetSchedule(queueDepth int, next time.Time) {
	m.QueueDepth.Set(float64(queueDepth))
	if !next.IsZero() {
		m.NextEligible.Set(float64(next.Unix()))
	}
}
