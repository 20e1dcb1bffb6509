// Package metrics exports pipeline telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"depot/internal/depot"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "depot"

// PrometheusObserver implements depot.Observer with Prometheus collectors.
type PrometheusObserver struct {
	ingestions      *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	resolutions     *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	taskFailures    *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
}

// NewPrometheusObserver registers the depot collectors with reg. Collectors
// already registered under the same names are reused.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingestion attempts by mode and outcome.",
		}, []string{"mode", "outcome"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Latency of ingestion pipelines.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Attachment sends to the warehouse by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative attachment size successfully sent to warehouses.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Access resolutions by outcome.",
		}, []string{"outcome"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Latency of access resolution.",
			Buckets:   prometheus.DefBuckets,
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Post-commit background tasks that returned an error.",
		}, []string{"task"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Post-commit background tasks run.",
		}, []string{"task"}),
	}

	var err error
	if o.ingestions, err = register(reg, o.ingestions); err != nil {
		return nil, err
	}
	if o.ingestDuration, err = register(reg, o.ingestDuration); err != nil {
		return nil, err
	}
	if o.uploads, err = register(reg, o.uploads); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register(reg, o.uploadBytes); err != nil {
		return nil, err
	}
	if o.resolutions, err = register(reg, o.resolutions); err != nil {
		return nil, err
	}
	if o.resolveDuration, err = register(reg, o.resolveDuration); err != nil {
		return nil, err
	}
	if o.taskFailures, err = register(reg, o.taskFailures); err != nil {
		return nil, err
	}
	if o.tasksCompleted, err = register(reg, o.tasksCompleted); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, returning the existing collector when one with the
// same descriptor is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// RecordIngestion counts one ingestion attempt and its latency.
func (o *PrometheusObserver) RecordIngestion(mode, outcome string, duration time.Duration) {
	if o == nil {
		return
	}
	o.ingestions.WithLabelValues(mode, outcome).Inc()
	o.ingestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordUpload counts one attachment send and, on success, its size.
func (o *PrometheusObserver) RecordUpload(sizeBytes int64, err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.uploads.WithLabelValues("failed").Inc()
		return
	}
	o.uploads.WithLabelValues("ok").Inc()
	if sizeBytes > 0 {
		o.uploadBytes.Add(float64(sizeBytes))
	}
}

// RecordResolution counts one access resolution and its latency.
func (o *PrometheusObserver) RecordResolution(outcome string, duration time.Duration) {
	if o == nil {
		return
	}
	o.resolutions.WithLabelValues(outcome).Inc()
	o.resolveDuration.Observe(duration.Seconds())
}

// RecordTask counts one background task run.
func (o *PrometheusObserver) RecordTask(name string, err error) {
	if o == nil {
		return
	}
	o.tasksCompleted.WithLabelValues(name).Inc()
	if err != nil {
		o.taskFailures.WithLabelValues(name).Inc()
	}
}

var _ depot.Observer = (*PrometheusObserver)(nil)
