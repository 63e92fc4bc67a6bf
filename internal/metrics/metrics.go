// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "rockwatch_"

type Metrics struct {
	jobsSubmitted    *prometheus.CounterVec
	jobTransitions   *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	runningJobs      prometheus.Gauge
	queueDepth       prometheus.Gauge
	effectiveWorkers prometheus.Gauge
	cpuPercent       prometheus.Gauge
	memoryPercent    prometheus.Gauge
	hubConnections   prometheus.Gauge
	deliveryFailures prometheus.Counter
	recorderDropped  prometheus.Counter
	recorderFailures *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg creates unregistered
// collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "jobs_submitted_total",
			Help: "Number of analysis jobs accepted, by kind",
		}, []string{"kind"}),
		jobTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "job_transitions_total",
			Help: "Number of job status transitions, by target status",
		}, []string{"status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "job_duration_seconds",
			Help:    "Wall time from Running to a terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13),
		}, []string{"kind", "status"}),
		runningJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "running_jobs",
			Help: "Number of jobs currently executing",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "queue_depth",
			Help: "Number of job ids waiting in the submission queue",
		}),
		effectiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "effective_workers",
			Help: "Current concurrency budget after resource throttling",
		}),
		cpuPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "host_cpu_percent",
			Help: "Last sampled host CPU utilization",
		}),
		memoryPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "host_memory_percent",
			Help: "Last sampled host memory utilization",
		}),
		hubConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "hub_connections",
			Help: "Number of live notification connections",
		}),
		deliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "hub_delivery_failures_total",
			Help: "Number of event deliveries that failed and dropped the connection",
		}),
		recorderDropped: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "recorder_dropped_total",
			Help: "Number of job snapshots dropped because the recorder buffer was full",
		}),
		recorderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "recorder_failures_total",
			Help: "Number of failed persistence writes, by backend",
		}, []string{"backend"}),
	}
}

func (m *Metrics) RecordSubmitted(kind string) {
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordTransition(status string) {
	m.jobTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveDuration(kind, status string, seconds float64) {
	m.jobDuration.WithLabelValues(kind, status).Observe(seconds)
}

func (m *Metrics) SetRunning(n int) {
	m.runningJobs.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetEffectiveWorkers(n int) {
	m.effectiveWorkers.Set(float64(n))
}

func (m *Metrics) SetHostUtilization(cpu, memory float64) {
	m.cpuPercent.Set(cpu)
	m.memoryPercent.Set(memory)
}

func (m *Metrics) SetConnections(n int) {
	m.hubConnections.Set(float64(n))
}

func (m *Metrics) AddDeliveryFailures(n int) {
	m.deliveryFailures.Add(float64(n))
}

func (m *Metrics) RecordRecorderDrop() {
	m.recorderDropped.Inc()
}

func (m *Metrics) RecordRecorderFailure(backend string) {
	m.recorderFailures.WithLabelValues(backend).Inc()
}
