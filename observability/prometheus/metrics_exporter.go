package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-mainthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every collector when no namespace is given.
const DefaultNamespace = "mainthread"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	FlattenBuckets  []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskFaultedTotal    *prom.CounterVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	flattenSteps        prom.Histogram
	flattenRunsTotal    *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	flattenBuckets := opts.FlattenBuckets
	if len(flattenBuckets) == 0 {
		flattenBuckets = prom.ExponentialBuckets(1, 4, 6) // 1..1024 steps
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"strategy"})
	faultedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_faulted_total",
		Help:      "Total number of tasks that finished faulted.",
	}, []string{"strategy"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of panics recovered from dispatched work.",
	}, []string{"source"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected posts.",
	}, []string{"source", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Items taken per queue category by the last drain.",
	}, []string{"category"})
	flattenHist := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "flatten_steps",
		Help:      "Steps taken by synchronous flattening runs.",
		Buckets:   flattenBuckets,
	})
	flattenVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "flatten_runs_total",
		Help:      "Synchronous flattening runs by outcome.",
	}, []string{"outcome"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if faultedVec, err = registerCollector(reg, faultedVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if flattenHist, err = registerCollector(reg, flattenHist); err != nil {
		return nil, err
	}
	if flattenVec, err = registerCollector(reg, flattenVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskFaultedTotal:    faultedVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		flattenSteps:        flattenHist,
		flattenRunsTotal:    flattenVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(strategy core.Strategy, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(strategyLabel(strategy)).Observe(duration.Seconds())
}

// RecordTaskFaulted counts faulted tasks.
func (m *MetricsExporter) RecordTaskFaulted(strategy core.Strategy) {
	if m == nil {
		return
	}
	m.taskFaultedTotal.WithLabelValues(strategyLabel(strategy)).Inc()
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(source string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(source, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(category string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(category, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records rejection events.
func (m *MetricsExporter) RecordTaskRejected(source string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(source, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordFlatten records one synchronous flattening run.
func (m *MetricsExporter) RecordFlatten(steps int, finished bool) {
	if m == nil {
		return
	}
	m.flattenSteps.Observe(float64(steps))
	outcome := "finished"
	if !finished {
		outcome = "truncated"
	}
	m.flattenRunsTotal.WithLabelValues(outcome).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func strategyLabel(strategy core.Strategy) string {
	switch strategy {
	case core.StrategyBackground:
		return "background"
	case core.StrategyMainThread:
		return "main_thread"
	case core.StrategyCurrentThread:
		return "current_thread"
	case core.StrategyCoroutine:
		return "coroutine"
	case core.StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
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
