package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/pkg/metrics"
	"github.com/ajitpratap0/prositlmdb/pkg/performance"
)

// ProgressReporter logs one line per completed batch with throughput and
// the resident memory of the process.
type ProgressReporter struct {
	logger     *zap.Logger
	total      int
	batches    int
	done       int
	throughput *metrics.ThroughputTracker
	resources  *performance.ResourceMonitor
}

// NewProgressReporter creates a reporter for total records in batches
// windows. Resource figures are omitted where the platform cannot supply
// them.
func NewProgressReporter(logger *zap.Logger, total, batches int) *ProgressReporter {
	rm, err := performance.NewResourceMonitor()
	if err != nil {
		logger.Debug("resource monitor unavailable", zap.Error(err))
	}
	return &ProgressReporter{
		logger:     logger,
		total:      total,
		batches:    batches,
		throughput: metrics.NewThroughputTracker(),
		resources:  rm,
	}
}

// Batch reports that window b, [start, end), was written.
func (r *ProgressReporter) Batch(b, start, end int, elapsed time.Duration) {
	n := end - start
	r.done += n
	r.throughput.Increment(int64(n))

	fields := []zap.Field{
		zap.Int("batch", b+1),
		zap.Int("batches", r.batches),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("records_done", r.done),
		zap.Int("total", r.total),
		zap.Float64("percent", percent(r.done, r.total)),
		zap.Duration("duration", elapsed),
		zap.Float64("records_per_sec", r.throughput.GetAndReset()),
	}
	if r.resources != nil {
		usage := r.resources.Usage()
		fields = append(fields, zap.Uint64("rss_bytes", usage.MemoryRSS))
	}
	r.logger.Info("batch complete", fields...)
}

// Done reports the end of the run.
func (r *ProgressReporter) Done(elapsed time.Duration) {
	rate := 0.0
	if elapsed > 0 {
		rate = float64(r.done) / elapsed.Seconds()
	}
	r.logger.Info("conversion complete",
		zap.Int("records", r.done),
		zap.Int("batches", r.batches),
		zap.Duration("duration", elapsed),
		zap.Float64("records_per_sec", rate))
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
