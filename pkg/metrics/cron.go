package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics covers the scheduler loops: per-job outcomes and cycles
// skipped because another instance held the loop lock.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	labels := []string{"loop", "job"}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of one scheduled job run.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, labels),
		success: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_success",
			Help: "Scheduled job runs that returned without error.",
		}, labels),
		failure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_failure",
			Help: "Scheduled job runs that returned an error.",
		}, labels),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_cycles_skipped_total",
			Help: "Scheduler cycles skipped while another instance held the lock.",
		}, []string{"loop"}),
	}
	reg.MustRegister(m.duration, m.success, m.failure, m.skipped)
	return m
}

// ObserveJob records one run of job inside loop.
func (c *CronJobMetrics) ObserveJob(loop, job string, duration time.Duration, err error) {
	if c == nil || c.duration == nil {
		return
	}
	loop, job = normalizeLabel(loop), normalizeLabel(job)
	c.duration.WithLabelValues(loop, job).Observe(duration.Seconds())
	if err != nil {
		c.failure.WithLabelValues(loop, job).Inc()
		return
	}
	c.success.WithLabelValues(loop, job).Inc()
}

func (c *CronJobMetrics) IncSkipped(loop string) {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.WithLabelValues(normalizeLabel(loop)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
