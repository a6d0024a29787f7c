package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus instruments.
type Metrics struct {
	JobsEnqueued   *prometheus.CounterVec
	JobsSucceeded  *prometheus.CounterVec
	JobsFailed     *prometheus.CounterVec
	JobsRetried    *prometheus.CounterVec
	SweeperActions *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// defaultRegistered returns the process-wide metrics, registered once with
// the default registerer so a component restart cannot double-register.
func defaultRegistered() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics registers the orchestrator metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_jobs_enqueued_total",
			Help: "Jobs enqueued, by job type.",
		}, []string{"type"}),
		JobsSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_jobs_succeeded_total",
			Help: "Jobs that reached succeeded, by job type.",
		}, []string{"type"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_jobs_failed_total",
			Help: "Jobs that reached failed, by job type and reason code.",
		}, []string{"type", "reason"}),
		JobsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_jobs_retried_total",
			Help: "Failed attempts rescheduled for retry, by job type.",
		}, []string{"type"}),
		SweeperActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_sweeper_actions_total",
			Help: "Sweeper interventions, by action (requeue, hard_timeout).",
		}, []string{"action"}),
	}
}
