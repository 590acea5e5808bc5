package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorObserveBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveBatch("hcd", "train", 100, 20*time.Millisecond)
	c.ObserveBatch("hcd", "train", 50, 10*time.Millisecond)
	c.ObserveError("store_io")

	assert.Equal(t, 150.0, testutil.ToFloat64(c.recordsConverted.WithLabelValues("hcd", "train")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batches.WithLabelValues("hcd", "train")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.storeRecords.WithLabelValues("hcd", "train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("store_io")))

	c.ResetStore("hcd", "train")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.storeRecords.WithLabelValues("hcd", "train")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "prositlmdb_batch_duration_seconds")
}

func TestCollectorDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveBatch("cid", "val", 1, time.Second)
		c.ObserveError("data")
		c.ResetStore("cid", "val")
	})
}

func TestThroughputTracker(t *testing.T) {
	tr := NewThroughputTracker()
	tr.Increment(10)
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, tr.GetAndReset(), 0.0)
}
