package launcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/G-Research/flotilla/internal/common"
)

const MetricsPrefix = "flotilla_"

const (
	stateLabel        = "state"
	resourceTypeLabel = "resourceType"
)

var (
	jobStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricsPrefix + "jobs",
			Help: "Jobs in each state for the current run",
		},
		[]string{stateLabel})

	allocatedResourceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricsPrefix + "allocated_resources",
			Help: "Resources requested by jobs currently submitted or running",
		},
		[]string{resourceTypeLabel})

	submissionsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "submissions_total",
			Help: "Counter for job submissions, including rejected ones",
		})

	retriesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "retries_total",
			Help: "Counter for job attempts rescheduled after a failure",
		})

	failuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "job_failures_total",
			Help: "Counter for failed job attempts",
		})

	tickDurationHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricsPrefix + "tick_duration_seconds",
			Help:    "Time spent in each launcher tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		})
)

// updateMetrics refreshes the per-state and allocated-resource gauges from
// the run context.
func (l *Launcher) updateMetrics() {
	counts := l.run.StateCounts()
	for _, state := range allStates {
		jobStateGauge.WithLabelValues(string(state)).Set(float64(counts[state]))
	}

	allocated := common.ComputeResources{}
	for _, jr := range l.run.Jobs() {
		if jr.State.InFlight() {
			allocated.Add(jr.Job.Resources.AsComputeResources())
		}
	}
	allocatedResourceGauge.Reset()
	for resourceType, quantity := range allocated {
		allocatedResourceGauge.WithLabelValues(resourceType).Set(quantity.AsApproximateFloat64())
	}
}
