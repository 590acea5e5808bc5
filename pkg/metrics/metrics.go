// Package metrics provides Prometheus metrics for conversion runs.
//
// # Overview
//
// A Collector owns the metrics of one process and registers them against
// a prometheus.Registerer, so tests can use a private registry and the CLI
// the default one.
//
// # Basic Usage
//
//	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
//	...
//	timer := metrics.NewTimer()
//	convertBatch(records)
//	collector.ObserveBatch("hcd", "train", len(records), timer.Stop())
//
// # Metric Types
//
// Counter: records converted, batches, errors by type
// Gauge: records in the store being written
// Histogram: batch duration
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prositlmdb"

// Collector records conversion metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	recordsConverted *prometheus.CounterVec
	batches          *prometheus.CounterVec
	errors           *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	storeRecords     *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		recordsConverted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_converted_total",
				Help:      "Total number of records written to a store",
			},
			[]string{"data_type", "split"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batch windows converted",
			},
			[]string{"data_type", "split"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_errors_total",
				Help:      "Total number of failed conversions by error type",
			},
			[]string{"type"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time to load, transform and write one batch window",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"data_type", "split"},
		),
		storeRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_records",
				Help:      "Records written so far to the store being built",
			},
			[]string{"data_type", "split"},
		),
	}

	for _, m := range []prometheus.Collector{
		c.recordsConverted, c.batches, c.errors, c.batchDuration, c.storeRecords,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveBatch records one completed batch of n records.
func (c *Collector) ObserveBatch(dataType, split string, n int, d time.Duration) {
	if c == nil {
		return
	}
	c.recordsConverted.WithLabelValues(dataType, split).Add(float64(n))
	c.batches.WithLabelValues(dataType, split).Inc()
	c.batchDuration.WithLabelValues(dataType, split).Observe(d.Seconds())
	c.storeRecords.WithLabelValues(dataType, split).Add(float64(n))
}

// ResetStore zeroes the store gauge when a store is recreated.
func (c *Collector) ResetStore(dataType, split string) {
	if c == nil {
		return
	}
	c.storeRecords.WithLabelValues(dataType, split).Set(0)
}

// ObserveError counts a failed conversion.
func (c *Collector) ObserveError(errType string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(errType).Inc()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks throughput (records per second) since the last
// reset. Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
}

// NewThroughputTracker creates a tracker starting now.
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset returns records per second since the last reset and starts
// a new period.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()
	return throughput
}
