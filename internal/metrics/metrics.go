package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "video_fetcher"

// Job outcomes.
const (
	OutcomeDelivered   = "delivered"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeQueueFull   = "queue_full"
)

// Cache hit kinds.
const (
	KindMaster = "master"
	KindVideo  = "video"
	KindAudio  = "audio"
)

// Metrics is safe to use as a nil pointer, which records nothing.
type Metrics struct {
	jobs         *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	acquisitions prometheus.Counter
	derivations  *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	queueDepth   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Submitted jobs by outcome.",
			},
			[]string{"outcome"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Artifacts served from the cache, by kind.",
			},
			[]string{"kind"},
		),
		acquisitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquisitions_total",
				Help:      "Master artifacts downloaded.",
			},
		),
		derivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "derivations_total",
				Help:      "Variants transcoded, by kind.",
			},
			[]string{"kind"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Time from a job starting on a worker to its delivery or failure.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Jobs waiting for a worker.",
			},
		),
	}
	reg.MustRegister(m.jobs, m.cacheHits, m.acquisitions, m.derivations, m.jobDuration, m.queueDepth)
	return m
}

func (m *Metrics) JobFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.jobDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) CacheHit(kind string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind).Inc()
}

func (m *Metrics) Acquired() {
	if m == nil {
		return
	}
	m.acquisitions.Inc()
}

func (m *Metrics) Derived(kind string) {
	if m == nil {
		return
	}
	m.derivations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
