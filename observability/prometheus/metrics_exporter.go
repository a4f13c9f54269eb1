// Package prometheus exports runner, dispatcher and pool metrics to Prometheus.
package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-coroutine/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "coroutine"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets    []float64
	JobDurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	jobsFinishedTotal   *prom.CounterVec
	jobDurationSeconds  *prom.HistogramVec

	registered registration
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
// Registering twice on the same registry reuses the existing collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	jobBuckets := opts.JobDurationBuckets
	if len(jobBuckets) == 0 {
		jobBuckets = prom.ExponentialBuckets(0.001, 4, 10)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Duration of one dispatcher task (one job step) in seconds.",
		Buckets:   buckets,
	}, []string{"dispatcher", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of panics in tasks and job bodies.",
	}, []string{"source"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of tasks rejected by a closed dispatcher.",
	}, []string{"dispatcher", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current ready-queue depth.",
	}, []string{"dispatcher"})
	finishedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Total number of jobs that reached a terminal state.",
	}, []string{"runner", "state"})
	jobDurationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time from a job body's start to the job's terminal state, in seconds.",
		Buckets:   jobBuckets,
	}, []string{"runner", "state"})

	m := &MetricsExporter{registered: registration{reg: reg}}
	var err error
	if m.taskDurationSeconds, err = registerCollector(&m.registered, durationVec); err != nil {
		m.registered.unregister()
		return nil, err
	}
	if m.taskPanicTotal, err = registerCollector(&m.registered, panicVec); err != nil {
		m.registered.unregister()
		return nil, err
	}
	if m.taskRejectedTotal, err = registerCollector(&m.registered, rejectedVec); err != nil {
		m.registered.unregister()
		return nil, err
	}
	if m.queueDepth, err = registerCollector(&m.registered, queueDepthVec); err != nil {
		m.registered.unregister()
		return nil, err
	}
	if m.jobsFinishedTotal, err = registerCollector(&m.registered, finishedVec); err != nil {
		m.registered.unregister()
		return nil, err
	}
	if m.jobDurationSeconds, err = registerCollector(&m.registered, jobDurationVec); err != nil {
		m.registered.unregister()
		return nil, err
	}
	return m, nil
}

// Unregister removes the collectors this exporter registered. Collectors it reused from an
// earlier registration stay registered.
func (m *MetricsExporter) Unregister() {
	if m == nil {
		return
	}
	m.registered.unregister()
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(dispatcher string, priority core.TaskPriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(dispatcher, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(source string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(source, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(dispatcher string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(dispatcher, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(dispatcher string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(dispatcher, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordJobFinished counts terminal jobs per state. Jobs that never started have no duration sample.
func (m *MetricsExporter) RecordJobFinished(runner string, state core.JobState, duration time.Duration) {
	if m == nil {
		return
	}
	runner = normalizeLabel(runner, "unknown")
	m.jobsFinishedTotal.WithLabelValues(runner, state.String()).Inc()
	if duration > 0 {
		m.jobDurationSeconds.WithLabelValues(runner, state.String()).Observe(duration.Seconds())
	}
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// registration tracks the collectors registered on reg so they can be removed again.
type registration struct {
	reg   prom.Registerer
	owned []prom.Collector
}

func (r *registration) unregister() {
	for _, c := range r.owned {
		r.reg.Unregister(c)
	}
	r.owned = nil
}

func registerCollector[T prom.Collector](r *registration, collector T) (T, error) {
	err := r.reg.Register(collector)
	if err == nil {
		r.owned = append(r.owned, collector)
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
