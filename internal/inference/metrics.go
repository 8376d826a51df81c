package inference

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pool and dispatcher collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	jobs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	queueWait prometheus.Histogram
	workers   prometheus.Gauge
	active    prometheus.Gauge
	orphaned  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecheck",
			Subsystem: "inference",
			Name:      "jobs_total",
			Help:      "Classification jobs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voicecheck",
			Subsystem: "inference",
			Name:      "job_duration_seconds",
			Help:      "Time from dispatch to outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voicecheck",
			Subsystem: "inference",
			Name:      "queue_wait_seconds",
			Help:      "Time a job waited for a free worker.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecheck",
			Subsystem: "inference",
			Name:      "pool_workers",
			Help:      "Configured worker pool size.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecheck",
			Subsystem: "inference",
			Name:      "pool_active",
			Help:      "Workers currently running a classification.",
		}),
		orphaned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecheck",
			Subsystem: "inference",
			Name:      "pool_orphaned",
			Help:      "Workers still running a job whose caller already gave up.",
		}),
	}
	for _, c := range []prometheus.Collector{m.jobs, m.duration, m.queueWait, m.workers, m.active, m.orphaned} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeJob(outcome JobState, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(outcome)).Inc()
	m.duration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

func (m *Metrics) observeQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}

func (m *Metrics) setWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}

func (m *Metrics) addActive(delta float64) {
	if m == nil {
		return
	}
	m.active.Add(delta)
}

func (m *Metrics) addOrphaned(delta float64) {
	if m == nil {
		return
	}
	m.orphaned.Add(delta)
}
