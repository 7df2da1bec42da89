// Package metrics exposes Prometheus metrics for backup runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "dumpkeeper"

// Run outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Collector owns the metrics of one process and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stepDuration  *prometheus.HistogramVec
	stepFailures  *prometheus.CounterVec
	archiveBytes  prometheus.Gauge
	dumpBytes     prometheus.Gauge
	lastSuccess   prometheus.Gauge
	remoteEvicted prometheus.Counter
	localPruned   prometheus.Counter
}

// NewCollector registers the metrics on registry, or on a fresh registry if nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs by outcome.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a backup run.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of each run step.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed run steps.",
		}, []string{"step"}),
		archiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_archive_bytes",
			Help:      "Size of the most recent archive.",
		}),
		dumpBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_dump_bytes",
			Help:      "Size of the most recent dump directory.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		remoteEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_evictions_total",
			Help:      "Archives removed from the remote store.",
		}),
		localPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_pruned_total",
			Help:      "Local archives deleted by retention.",
		}),
	}

	registry.MustRegister(
		c.runs, c.runDuration, c.stepDuration, c.stepFailures,
		c.archiveBytes, c.dumpBytes, c.lastSuccess, c.remoteEvicted, c.localPruned,
	)
	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveStep records the duration and outcome of a run step.
func (c *Collector) ObserveStep(step string, d time.Duration, err error) {
	c.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if err != nil {
		c.stepFailures.WithLabelValues(step).Inc()
	}
}

// RecordRun records the outcome of a whole run finished at end.
func (c *Collector) RecordRun(d time.Duration, err error, end time.Time) {
	c.runDuration.Observe(d.Seconds())
	if err != nil {
		c.runs.WithLabelValues(StatusFailure).Inc()
		return
	}
	c.runs.WithLabelValues(StatusSuccess).Inc()
	c.lastSuccess.Set(float64(end.Unix()))
}

func (c *Collector) SetArchiveBytes(n int64) { c.archiveBytes.Set(float64(n)) }

func (c *Collector) SetDumpBytes(n int64) { c.dumpBytes.Set(float64(n)) }

func (c *Collector) AddRemoteEvicted(n int) { c.remoteEvicted.Add(float64(n)) }

func (c *Collector) AddLocalPruned(n int) { c.localPruned.Add(float64(n)) }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Push sends the current metrics to a Pushgateway under the given job name.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
