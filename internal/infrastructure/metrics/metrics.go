package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the process metrics. All methods are safe on a nil
// receiver so components can run without metrics wired in.
type Collector struct {
	registry *prometheus.Registry

	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	notifications  *prometheus.CounterVec
	remoteCommands *prometheus.CounterVec
	pooledSessions prometheus.Gauge
	approvals      *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_job_runs_total",
			Help: "Scheduled job runs by outcome",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_job_duration_seconds",
			Help:    "Scheduled job run duration",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_notifications_total",
			Help: "Notifications by category and delivery outcome",
		}, []string{"category", "outcome"}),
		remoteCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_remote_commands_total",
			Help: "Remote commands by outcome",
		}, []string{"outcome"}),
		pooledSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_ssh_pooled_sessions",
			Help: "Live pooled SSH connections",
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_approvals_total",
			Help: "Approval proposals by decision",
		}, []string{"decision"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.jobRuns,
		c.jobDuration,
		c.notifications,
		c.remoteCommands,
		c.pooledSessions,
		c.approvals,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) JobRun(job string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.jobRuns.WithLabelValues(job, outcome).Inc()
	c.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (c *Collector) Notification(category string, delivered bool) {
	if c == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	c.notifications.WithLabelValues(category, outcome).Inc()
}

func (c *Collector) RemoteCommand(outcome string) {
	if c == nil {
		return
	}
	c.remoteCommands.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetPooledSessions(n int64) {
	if c == nil {
		return
	}
	c.pooledSessions.Set(float64(n))
}

func (c *Collector) Approval(decision string) {
	if c == nil {
		return
	}
	c.approvals.WithLabelValues(decision).Inc()
}
